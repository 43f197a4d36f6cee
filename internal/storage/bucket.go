// Package storage はアップロードファイルの保存と公開URLを提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath はバケット外を指すなど不正なオブジェクトパスを表す。
var ErrInvalidPath = errors.New("invalid object path")

// Bucket はオブジェクトの保存先。
type Bucket interface {
	Upload(ctx context.Context, objectPath string, r io.Reader) error
	PublicURL(objectPath string) string
}

// DiskBucket はローカルディスク上のディレクトリをバケットとして扱う。
type DiskBucket struct {
	name    string
	dir     string
	baseURL string
	maxSize int64
}

var _ Bucket = (*DiskBucket)(nil)

// NewDiskBucket はroot/nameをバケットとするDiskBucketを生成する。
func NewDiskBucket(root, name, baseURL string, maxSize int64) (*DiskBucket, error) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket dir: %w", err)
	}
	return &DiskBucket{
		name:    name,
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
	}, nil
}

// Name はバケット名を返す。
func (b *DiskBucket) Name() string {
	return b.name
}

// Upload はオブジェクトを書き込む。同じパスが既にあれば上書きする。
// maxSizeを超えるオブジェクトは書き込まずにエラーを返す。
func (b *DiskBucket) Upload(ctx context.Context, objectPath string, r io.Reader) error {
	target, err := b.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, b.maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if n > b.maxSize {
		return fmt.Errorf("object %s exceeds %d bytes", objectPath, b.maxSize)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}
	return nil
}

// PublicURL はオブジェクトの公開URLを返す。
func (b *DiskBucket) PublicURL(objectPath string) string {
	segments := strings.Split(path.Clean("/"+objectPath), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return b.baseURL + "/storage/" + url.PathEscape(b.name) + strings.Join(segments, "/")
}

// Handler はバケットの内容を配信するハンドラーを返す。ディレクトリ一覧は返さない。
func (b *DiskBucket) Handler() http.Handler {
	fs := http.FileServer(http.Dir(b.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func (b *DiskBucket) resolve(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" || strings.Contains(objectPath, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return filepath.Join(b.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
