package mailbox

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	errs "klarnaparser/pkg/errors"
)

// codePattern matches a 6-digit number followed on the same line by the
// phrase announcing it as the verification code.
var codePattern = regexp.MustCompile(`(?i)\b(\d{6})\b.*?(?:is your 6-digit code|your 6-digit code is)`)

// ExtractCode returns the verification code found in body
func ExtractCode(body string) (string, error) {
	m := codePattern.FindStringSubmatch(body)
	if m == nil {
		return "", errs.DataAbsence("extract-code", errs.ErrCodeNotFound)
	}
	return m[1], nil
}

// PlainText returns the readable body of an RFC 822 message. For multipart
// messages this is the first inline text/plain part; when the message has
// no text/plain part the first text/html part is reduced to its text.
func PlainText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return "", errs.Newf(errs.ErrorTypeDataAbsence, "parse-message", err, "read message")
	}
	defer mr.Close()

	var html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", errs.Newf(errs.ErrorTypeDataAbsence, "parse-message", err, "read part")
		}
		if part == nil {
			continue
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, ctErr := h.ContentType()
		if ctErr != nil || contentType == "" {
			contentType = "text/plain"
		}

		switch contentType {
		case "text/plain":
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return "", errs.Newf(errs.ErrorTypeDataAbsence, "parse-message", err, "read text/plain body")
			}
			return string(body), nil
		case "text/html":
			if html != "" {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return "", errs.Newf(errs.ErrorTypeDataAbsence, "parse-message", err, "read text/html body")
			}
			html = string(body)
		}
	}

	if html == "" {
		return "", nil
	}
	return htmlText(html)
}

func htmlText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeDataAbsence, "parse-message", err, "parse html body")
	}
	doc.Find("script, style, head").Remove()
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
