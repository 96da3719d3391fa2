package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("stream broke")
}

func TestExtract_PlainText(t *testing.T) {
	ctx := context.Background()
	x := New()

	tests := []struct {
		name      string
		mediaType string
		content   string
		want      string
	}{
		{
			name:      "text/plain",
			mediaType: "text/plain",
			content:   "John Doe\nSoftware Engineer",
			want:      "John Doe\nSoftware Engineer",
		},
		{
			name:      "media type parameters are ignored",
			mediaType: "text/plain; charset=utf-8",
			content:   "hello",
			want:      "hello",
		},
		{
			name:      "other text subtypes pass through",
			mediaType: "text/markdown",
			content:   "# CV",
			want:      "# CV",
		},
		{
			name:      "surrounding whitespace is trimmed",
			mediaType: "text/plain",
			content:   "  \n content \n ",
			want:      "content",
		},
		{
			name:      "case-insensitive media type",
			mediaType: "Text/Plain",
			content:   "hello",
			want:      "hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := x.Extract(ctx, tt.mediaType, strings.NewReader(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_UnsupportedMediaType(t *testing.T) {
	x := New()

	for _, mt := range []string{"image/png", "application/zip", "application/msword"} {
		t.Run(mt, func(t *testing.T) {
			_, err := x.Extract(context.Background(), mt, strings.NewReader("data"))
			assert.ErrorIs(t, err, ErrUnsupportedMediaType)
			assert.Contains(t, err.Error(), mt)
		})
	}
}

func TestExtract_EmptyContent(t *testing.T) {
	x := New()

	tests := []struct {
		name    string
		content string
	}{
		{name: "empty body", content: ""},
		{name: "whitespace only", content: " \n\t  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.Extract(context.Background(), "text/plain", strings.NewReader(tt.content))
			assert.ErrorIs(t, err, ErrEmptyContent)
		})
	}
}

func TestExtract_ReadFailureIsTransient(t *testing.T) {
	x := New()

	_, err := x.Extract(context.Background(), "text/plain", failingReader{})

	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.True(t, xerr.Transient)
}

func TestExtract_MalformedPDFIsPermanent(t *testing.T) {
	x := New()

	_, err := x.Extract(context.Background(), "application/pdf", strings.NewReader("not a pdf"))

	require.Error(t, err)
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.False(t, xerr.Transient)
}

func TestExtract_MalformedDocxIsPermanent(t *testing.T) {
	x := New()

	mt := "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	_, err := x.Extract(context.Background(), mt, strings.NewReader("not a zip"))

	require.Error(t, err)
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.False(t, xerr.Transient)
}

func TestExtract_CanceledContext(t *testing.T) {
	x := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := x.Extract(ctx, "text/plain", strings.NewReader("hello"))

	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.True(t, xerr.Transient)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractDocx_StripsMarkup(t *testing.T) {
	content := `<w:document><w:body><w:p><w:r><w:t>John Doe</w:t></w:r></w:p><w:p><w:r><w:t>Engineer</w:t></w:r></w:p></w:body></w:document>`

	stripped := docxTagRe.ReplaceAllString(strings.ReplaceAll(content, "</w:p>", "\n"), "")
	assert.Equal(t, "John Doe\nEngineer\n", stripped)
}
