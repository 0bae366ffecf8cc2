package http

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
)

type addTest struct {
	resp   http.Response
	output bool
}

var tests = []addTest{
	{http.Response{StatusCode: 200}, true},
	{http.Response{StatusCode: 202}, true},
	{http.Response{StatusCode: 204}, true},
	{http.Response{StatusCode: 102}, false},
	{http.Response{StatusCode: 301}, false},
	{http.Response{StatusCode: 404}, false},
	{http.Response{StatusCode: 500}, false},
}

func TestIsSuccessStatusCode(t *testing.T) {
	for _, v := range tests {
		res := IsSuccessStatusCode(&v.resp)
		assert.Equal(t, v.output, res, fmt.Sprintf("status %d: output %t not equal to expected %t", v.resp.StatusCode, res, v.output))
	}
}

func TestProxyFunc(t *testing.T) {
	f, err := proxyFunc("http://proxy.local:3128")
	assert.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "https://fhir.example.org/$export", nil)
	u, err := f(req)
	assert.NoError(t, err)
	assert.Equal(t, "proxy.local:3128", u.Host)

	_, err = proxyFunc("://bad")
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(Config{RetryMax: 2, InsecureSkipVerify: true}, log.NewNopLogger())
	assert.NoError(t, err)
	assert.Equal(t, 2, c.RetryMax)

	tr, ok := c.HTTPClient.Transport.(*http.Transport)
	assert.True(t, ok)
	assert.True(t, tr.DisableCompression)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.Error(t, (&Config{RetryMax: -1}).Validate())
}
