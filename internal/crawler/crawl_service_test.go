package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHTMLFromWarcRecord(t *testing.T) {
	record := "WARC/1.0\r\nWARC-Type: response\r\n\r\nHTTP/1.1 200 OK\r\nEtag: \"abc\"\r\n" +
		"Content-Type: text/html\r\n\r\n<!DOCTYPE html>\n<html><body><img src=\"https://cdn/1.jpg\"></body></html>\r\n\r\n"

	assert.Equal(t, "<!DOCTYPE html>\n<html><body><img src=\"https://cdn/1.jpg\"></body></html>", ExtractHTML(record))
}

func TestExtractHTMLWithoutDoctype(t *testing.T) {
	record := "HTTP/1.1 200 OK\r\n\r\n<html lang=\"en\"><body></body></html>"
	assert.Equal(t, "<html lang=\"en\"><body></body></html>", ExtractHTML(record))
}

func TestExtractHTMLNothing(t *testing.T) {
	assert.Empty(t, ExtractHTML("HTTP/1.1 200 OK\r\n\r\n{\"json\":true}"))
}
