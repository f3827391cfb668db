package mailbox

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "klarnaparser/pkg/errors"
)

func buildMessage(t *testing.T, build func(e *email.Email)) []byte {
	t.Helper()
	e := email.NewEmail()
	e.From = "Klarna <noreply-uk@klarna.co.uk>"
	e.To = []string{"ops@example.com"}
	e.Subject = "Your verification code"
	build(e)
	raw, err := e.Bytes()
	require.NoError(t, err)
	return raw
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "code before phrase",
			body: "123456 is your 6-digit code",
			want: "123456",
		},
		{
			name: "surrounding text",
			body: "Your code 482913 is your 6-digit code for login.",
			want: "482913",
		},
		{
			name: "case insensitive reversed phrase",
			body: "Use 654321 now. YOUR 6-DIGIT CODE IS above.",
			want: "654321",
		},
		{
			name:    "no code",
			body:    "Welcome to the merchant portal.",
			wantErr: true,
		},
		{
			name:    "seven digits",
			body:    "1234567 is your 6-digit code",
			wantErr: true,
		},
		{
			name:    "phrase on another line",
			body:    "123456\nis your 6-digit code",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := ExtractCode(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrCodeNotFound)
				assert.Equal(t, errs.ErrorTypeDataAbsence, errs.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestPlainTextSinglePart(t *testing.T) {
	raw := buildMessage(t, func(e *email.Email) {
		e.Text = []byte("Your code 482913 is your 6-digit code for login.")
	})

	body, err := PlainText(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, body, "482913 is your 6-digit code")
}

func TestPlainTextUsesFirstTextPartOnly(t *testing.T) {
	raw := buildMessage(t, func(e *email.Email) {
		e.Text = []byte("Open the portal to continue.")
		e.HTML = []byte("<p>Your code 111222 is your 6-digit code</p>")
	})

	body, err := PlainText(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, body, "Open the portal")

	_, err = ExtractCode(body)
	assert.ErrorIs(t, err, errs.ErrCodeNotFound)
}

func TestPlainTextSkipsSecondTextPart(t *testing.T) {
	raw := strings.Join([]string{
		"From: noreply-uk@klarna.co.uk",
		"To: ops@example.com",
		"Subject: code",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Nothing to see here.",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"333444 is your 6-digit code",
		"--b1--",
		"",
	}, "\r\n")

	body, err := PlainText(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, body, "Nothing to see here.")
	assert.NotContains(t, body, "333444")
}

func TestPlainTextIgnoresAttachments(t *testing.T) {
	raw := buildMessage(t, func(e *email.Email) {
		e.Text = []byte("See attachment.")
		_, err := e.Attach(strings.NewReader("999888 is your 6-digit code"), "code.txt", "text/plain")
		require.NoError(t, err)
	})

	body, err := PlainText(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, body, "See attachment.")
	assert.NotContains(t, body, "999888")
}

func TestPlainTextHTMLOnlyFallback(t *testing.T) {
	raw := buildMessage(t, func(e *email.Email) {
		e.HTML = []byte(`<html><head><style>p{color:red}</style></head>
<body><p>Your code <b>707070</b>
is your 6-digit code.</p></body></html>`)
	})

	body, err := PlainText(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.NotContains(t, body, "<b>")
	assert.NotContains(t, body, "color:red")

	code, err := ExtractCode(body)
	require.NoError(t, err)
	assert.Equal(t, "707070", code)
}
