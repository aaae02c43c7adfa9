// File upload handler: base64 payload in, sanitized name under the upload
// directory out, served back by the static site.
package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// sanitizeFileName reduces a client-supplied name to a safe base name.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

func (d *Dispatcher) handleUploadFile(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Name     string `json:"name"`
		Contents string `json:"contents"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	// Reject obviously oversized payloads before decoding: base64 inflates
	// by 4/3, so this bound is conservative.
	if int64(len(params.Contents)) > (d.maxUpload*4)/3+4 {
		return nil, Errorf("file too large")
	}
	contents, err := base64.StdEncoding.DecodeString(params.Contents)
	if err != nil {
		return nil, Errorf("contents must be valid base64")
	}
	if int64(len(contents)) > d.maxUpload {
		return nil, Errorf("file too large")
	}

	if err := os.MkdirAll(d.uploadDir, 0755); err != nil {
		return nil, err
	}

	// A random prefix keeps distinct uploads of the same name apart.
	stored := uuid.NewString() + "_" + sanitizeFileName(params.Name)
	if err := os.WriteFile(filepath.Join(d.uploadDir, stored), contents, 0644); err != nil {
		return nil, err
	}

	d.log.Info("stored upload %s (%d bytes) for user %s", stored, len(contents), sess.State().UserID)
	return map[string]string{"link": "/uploads/" + stored}, nil
}
