package wfs

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTTPError is a failed WFS exchange: a non-2xx status or an OGC exception
// report.
type HTTPError struct {
	URL     string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wfs: HTTP %d from %s", e.Status, e.URL)
	}
	return fmt.Sprintf("wfs: HTTP %d from %s: %s", e.Status, e.URL, e.Message)
}

type exceptionReport struct {
	XMLName    xml.Name `xml:"ExceptionReport"`
	Exceptions []struct {
		Code    string   `xml:"exceptionCode,attr"`
		Locator string   `xml:"locator,attr"`
		Text    []string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

func isExceptionReport(contentType string, body []byte) bool {
	if !strings.Contains(contentType, "xml") {
		return false
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("ExceptionReport"))
}

func newHTTPError(rawURL string, status int, contentType string, body []byte) *HTTPError {
	return &HTTPError{URL: rawURL, Status: status, Message: errorMessage(contentType, body)}
}

// errorMessage pulls a readable message out of an error body: the exception
// text of an OGC report, the title and first heading of an HTML page, or the
// start of anything else.
func errorMessage(contentType string, body []byte) string {
	switch {
	case strings.Contains(contentType, "xml"):
		var rep exceptionReport
		if err := xml.Unmarshal(body, &rep); err == nil && len(rep.Exceptions) > 0 {
			var parts []string
			for _, ex := range rep.Exceptions {
				msg := strings.TrimSpace(strings.Join(ex.Text, " "))
				if ex.Code != "" {
					msg = ex.Code + ": " + msg
				}
				parts = append(parts, msg)
			}
			return strings.Join(parts, "; ")
		}
	case strings.Contains(contentType, "html"):
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			title := strings.TrimSpace(doc.Find("title").First().Text())
			h1 := strings.TrimSpace(doc.Find("h1").First().Text())
			switch {
			case title != "" && h1 != "" && h1 != title:
				return title + ": " + h1
			case title != "":
				return title
			case h1 != "":
				return h1
			}
		}
	}
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
