package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fpang/scholarship-verification/internal/chat"
	"github.com/fpang/scholarship-verification/internal/media"
)

// qualityConcurrency bounds parallel model calls for one batch.
const qualityConcurrency = 4

type qualityImage struct {
	Name string `json:"name"`
	// Data is a base64 data URL or bare base64.
	Data string `json:"data"`

	bytes    []byte
	mimeType string
}

type qualityRequest struct {
	StudentID string         `json:"studentId"`
	Images    []qualityImage `json:"images"`
}

type qualityResult struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
}

// handleQualityCheck screens a batch of photos sent either as multipart
// "images" (or a single "image") or as JSON base64.
func (s *Server) handleQualityCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.quality == nil {
		httpError(w, http.StatusServiceUnavailable, "quality check not configured")
		return
	}

	var (
		images []qualityImage
		err    error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		images, err = readMultipartImages(w, r)
	} else {
		images, err = readJSONImages(w, r)
	}
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(images) == 0 {
		httpError(w, http.StatusBadRequest, "images required")
		return
	}
	if len(images) > maxImagesBatch {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("at most %d images per request", maxImagesBatch))
		return
	}

	results := s.checkAll(r.Context(), images)
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) checkAll(ctx context.Context, images []qualityImage) []qualityResult {
	results := make([]qualityResult, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(qualityConcurrency)
	for i, img := range images {
		g.Go(func() error {
			v := s.quality.Check(gctx, img.bytes, img.mimeType)
			results[i] = qualityResult{Filename: img.Name, Status: v.Status, Reason: v.Reason}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func readMultipartImages(w http.ResponseWriter, r *http.Request) ([]qualityImage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImagesBatch*maxImageBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("invalid multipart form")
	}
	files := r.MultipartForm.File["images"]
	files = append(files, r.MultipartForm.File["image"]...)

	images := make([]qualityImage, 0, len(files))
	for _, fh := range files {
		img, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func readPart(fh *multipart.FileHeader) (qualityImage, error) {
	if fh.Size > maxImageBytes {
		return qualityImage{}, fmt.Errorf("%s exceeds %d MB", fh.Filename, maxImageBytes>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return qualityImage{}, fmt.Errorf("cannot read %s", fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return qualityImage{}, fmt.Errorf("cannot read %s", fh.Filename)
	}
	return qualityImage{Name: fh.Filename, bytes: data, mimeType: imageMIME(fh.Filename, fh.Header.Get("Content-Type"), data)}, nil
}

func readJSONImages(w http.ResponseWriter, r *http.Request) ([]qualityImage, error) {
	var req qualityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	for i := range req.Images {
		img := &req.Images[i]
		data, mimeType, err := media.DecodeDataURL(img.Data)
		if err != nil {
			return nil, fmt.Errorf("image %d is not valid base64", i)
		}
		if len(data) > maxImageBytes {
			return nil, fmt.Errorf("image %d exceeds %d MB", i, maxImageBytes>>20)
		}
		if img.Name == "" {
			img.Name = fmt.Sprintf("image-%d", i+1)
		}
		// DecodeDataURL defaults bare payloads to audio; photos are sniffed instead.
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = ""
		}
		img.bytes = data
		img.mimeType = imageMIME(img.Name, mimeType, data)
	}
	return req.Images, nil
}

// imageMIME prefers the declared type, then the extension, then sniffing.
func imageMIME(name, declared string, data []byte) string {
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if mt, err := media.GetMIMEType(filepath.Ext(name)); err == nil && media.IsImage(filepath.Ext(name)) {
		return mt
	}
	return http.DetectContentType(data)
}

var _ QualityChecker = (*chat.QualityChecker)(nil)
