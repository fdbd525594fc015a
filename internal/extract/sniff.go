package extract

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const mediaPDF = "application/pdf"

// Sniff settles the media type of a document. A declared type wins, then the
// file extension, then content detection. Only images and PDFs qualify.
func Sniff(name, declared string, data []byte) (string, bool) {
	candidates := []string{declared, mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))}
	if len(data) > 0 {
		candidates = append(candidates, http.DetectContentType(data))
	}
	for _, c := range candidates {
		mt, _, err := mime.ParseMediaType(c)
		if err != nil || mt == "" || mt == "application/octet-stream" {
			continue
		}
		return mt, acceptable(mt)
	}
	return "", false
}

func acceptable(mediaType string) bool {
	return mediaType == mediaPDF || strings.HasPrefix(mediaType, "image/")
}

// PageCount reads a PDF leniently and reports how many pages it has.
func PageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panicked: %v", r)
		}
	}()
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return api.PageCount(bytes.NewReader(data), conf)
}
