package handler

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/orientation"
)

// OrientationService はオリエンテーションハンドラーが必要とするサービスインターフェース。
type OrientationService interface {
	Context(ctx context.Context, link orientation.DeepLink) (*orientation.Context, error)
	Submit(ctx context.Context, link orientation.DeepLink, in orientation.Submission) (*model.Submission, error)
}

var _ OrientationService = (*orientation.Service)(nil)

const (
	// maxUploadBody は提出リクエスト全体の上限サイズ。
	maxUploadBody = 64 << 20
	// multipartMemory はメモリに保持するマルチパートの上限。超えた分は一時ファイルになる。
	multipartMemory = 8 << 20
)

// OrientationHandler はディープリンク経由のオリエンテーション提出を扱うHTTPハンドラー。
type OrientationHandler struct {
	service OrientationService
}

// NewOrientationHandler はOrientationHandlerを生成する。
func NewOrientationHandler(service OrientationService) *OrientationHandler {
	return &OrientationHandler{service: service}
}

// Context はディープリンクに対応する画面情報を返す。
// GET /api/orientation?email=&professor=&name=&token=
func (h *OrientationHandler) Context(w http.ResponseWriter, r *http.Request) {
	link, err := orientation.ParseDeepLink(r.URL.Query())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	c, err := h.service.Context(r.Context(), link)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Submit はオリエンテーションの提出を受け付ける。
// ディープリンクの値はフォームとクエリのどちらで送ってもよい。
// POST /api/orientation/submit (multipart/form-data)
func (h *OrientationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		handleServiceError(w, r, model.NewValidationError("submission must be multipart/form-data within the size limit"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	values := url.Values(r.MultipartForm.Value)
	linkValues := r.URL.Query()
	for _, k := range []string{"email", "professor", "name", "token"} {
		if v := values.Get(k); v != "" {
			linkValues.Set(k, v)
		}
	}
	link, err := orientation.ParseDeepLink(linkValues)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	tasks, err := parseCompletedTasks(values["completedTasks"])
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	files := r.MultipartForm.File["screenshots"]
	shots := make([]orientation.Screenshot, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		defer f.Close()
		shots = append(shots, orientation.Screenshot{ContentType: contentType(fh), Body: f})
	}

	sub, err := h.service.Submit(r.Context(), link, orientation.Submission{
		OperatingSystem: values.Get("operatingSystem"),
		CompletedTasks:  tasks,
		Screenshots:     shots,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// parseCompletedTasks はフィールドの繰り返し、またはJSON配列の文字列1つを受け付ける。
func parseCompletedTasks(raw []string) ([]string, error) {
	if len(raw) == 1 && strings.HasPrefix(strings.TrimSpace(raw[0]), "[") {
		var tasks []string
		if err := json.Unmarshal([]byte(raw[0]), &tasks); err != nil {
			return nil, model.NewValidationError("completedTasks must be a JSON array of strings")
		}
		return tasks, nil
	}
	return raw, nil
}

func contentType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
