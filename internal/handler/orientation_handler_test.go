package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"reflect"
	"testing"

	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/orientation"
)

const testToken = "0123456789abcdef"

func multipartBody(t *testing.T, fields map[string][]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, vs := range fields {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				t.Fatalf("WriteField: %v", err)
			}
		}
	}
	for name, contentType := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="screenshots"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write([]byte("image-bytes-" + name))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf, mw.FormDataContentType()
}

// --- テスト ---

func TestOrientationHandler_Context(t *testing.T) {
	var got orientation.DeepLink
	svc := &mockOrientationService{
		contextFn: func(_ context.Context, link orientation.DeepLink) (*orientation.Context, error) {
			got = link
			return &orientation.Context{ApprenticeName: "Ada", Phase: model.Phase1}, nil
		},
	}
	h := NewOrientationHandler(svc)

	req := httptest.NewRequest(http.MethodGet,
		"/api/orientation?email=ada@example.com&professor=prof@example.com&name=Ada&token="+testToken, nil)
	w := httptest.NewRecorder()

	h.Context(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got.Email != "ada@example.com" || got.Professor != "prof@example.com" || got.Token != testToken {
		t.Errorf("link = %+v", got)
	}
}

func TestOrientationHandler_Context_MalformedLink(t *testing.T) {
	called := false
	svc := &mockOrientationService{
		contextFn: func(context.Context, orientation.DeepLink) (*orientation.Context, error) {
			called = true
			return nil, nil
		},
	}
	h := NewOrientationHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/orientation?email=not-an-email&token=zz", nil)
	w := httptest.NewRecorder()

	h.Context(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := parseErrorBody(t, w); got.Code != model.ErrCodeInvalidDeepLink {
		t.Errorf("code = %q", got.Code)
	}
	if called {
		t.Error("service must not be called for a malformed link")
	}
}

func TestOrientationHandler_Submit(t *testing.T) {
	var gotLink orientation.DeepLink
	var gotIn orientation.Submission
	var bodies []string
	svc := &mockOrientationService{
		submitFn: func(_ context.Context, link orientation.DeepLink, in orientation.Submission) (*model.Submission, error) {
			gotLink = link
			gotIn = in
			for _, s := range in.Screenshots {
				b, _ := io.ReadAll(s.Body)
				bodies = append(bodies, string(b))
			}
			return &model.Submission{ID: "s1", Status: model.SubmissionPending}, nil
		},
	}
	h := NewOrientationHandler(svc)

	body, contentType := multipartBody(t, map[string][]string{
		"email":           {"ada@example.com"},
		"professor":       {"prof@example.com"},
		"token":           {testToken},
		"operatingSystem": {"macOS"},
		"completedTasks":  {`["Installed Zoom","Tested webcam"]`},
	}, map[string]string{"desk.png": "image/png; charset=binary"})

	req := httptest.NewRequest(http.MethodPost, "/api/orientation/submit", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.Submit(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if gotLink.Email != "ada@example.com" || gotLink.Token != testToken {
		t.Errorf("link = %+v", gotLink)
	}
	if gotIn.OperatingSystem != "macOS" {
		t.Errorf("operatingSystem = %q", gotIn.OperatingSystem)
	}
	if !reflect.DeepEqual(gotIn.CompletedTasks, []string{"Installed Zoom", "Tested webcam"}) {
		t.Errorf("completedTasks = %v", gotIn.CompletedTasks)
	}
	if len(gotIn.Screenshots) != 1 || gotIn.Screenshots[0].ContentType != "image/png" {
		t.Errorf("screenshots = %+v", gotIn.Screenshots)
	}
	if len(bodies) != 1 || bodies[0] != "image-bytes-desk.png" {
		t.Errorf("screenshot bodies = %v", bodies)
	}
}

func TestOrientationHandler_Submit_LinkFromQuery(t *testing.T) {
	var gotLink orientation.DeepLink
	svc := &mockOrientationService{
		submitFn: func(_ context.Context, link orientation.DeepLink, _ orientation.Submission) (*model.Submission, error) {
			gotLink = link
			return &model.Submission{ID: "s1"}, nil
		},
	}
	h := NewOrientationHandler(svc)

	body, contentType := multipartBody(t, map[string][]string{
		"operatingSystem": {"Windows"},
		"completedTasks":  {"Installed Zoom", "Joined Slack"},
	}, map[string]string{"a.jpg": "image/jpeg"})

	req := httptest.NewRequest(http.MethodPost,
		"/api/orientation/submit?email=ada@example.com&professor=prof@example.com&token="+testToken, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.Submit(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if gotLink.Professor != "prof@example.com" {
		t.Errorf("link = %+v", gotLink)
	}
}

func TestOrientationHandler_Submit_NotMultipart(t *testing.T) {
	h := NewOrientationHandler(&mockOrientationService{})

	req := httptest.NewRequest(http.MethodPost, "/api/orientation/submit", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Submit(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestParseCompletedTasks(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    []string
		wantErr bool
	}{
		{name: "repeated fields", raw: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "json array", raw: []string{` ["a","b"]`}, want: []string{"a", "b"}},
		{name: "single plain value", raw: []string{"a"}, want: []string{"a"}},
		{name: "broken json", raw: []string{`["a"`}, wantErr: true},
		{name: "none", raw: nil, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCompletedTasks(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
