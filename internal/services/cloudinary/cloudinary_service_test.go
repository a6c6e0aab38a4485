package cloudinary

import (
	"context"
	"strings"
	"testing"

	"github.com/rajivgeraev/flippy-market/internal/config"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

func newTestService(t *testing.T, secret string) *CloudinaryService {
	t.Helper()
	s, err := NewCloudinaryService(config.CloudinaryConfig{
		APIKey:       "key",
		APISecret:    secret,
		UploadFolder: "flippy",
		UploadPreset: "flippy_mvp",
	}, utils.NewJWTService("jwt"), nil)
	if err != nil {
		t.Fatalf("NewCloudinaryService: %v", err)
	}
	return s
}

func TestSignatureDependsOnSecretAndParams(t *testing.T) {
	a := newTestService(t, "secret-a")
	b := newTestService(t, "secret-b")
	params := map[string]string{"timestamp": "1700000000", "folder": "flippy/x"}

	sigA1, err := a.GenerateSignature(params)
	if err != nil || sigA1 == "" {
		t.Fatalf("GenerateSignature = %q, %v", sigA1, err)
	}
	sigA2, _ := a.GenerateSignature(params)
	if sigA1 != sigA2 {
		t.Fatalf("signature is not deterministic")
	}
	if sigB, _ := b.GenerateSignature(params); sigB == sigA1 {
		t.Fatalf("signature ignores the secret")
	}
	if other, _ := a.GenerateSignature(map[string]string{"timestamp": "1700000001", "folder": "flippy/x"}); other == sigA1 {
		t.Fatalf("signature ignores params")
	}
}

func TestUploadParamsCarrySignedFields(t *testing.T) {
	s := newTestService(t, "secret")
	params, err := s.UploadParams(s.folder("listings/l1"))
	if err != nil {
		t.Fatalf("UploadParams: %v", err)
	}
	if params["folder"] != "flippy/listings/l1" || params["upload_preset"] != "flippy_mvp" {
		t.Fatalf("params = %v", params)
	}
	if sig, _ := params["signature"].(string); strings.TrimSpace(sig) == "" {
		t.Fatalf("missing signature")
	}
}

func TestUploadDisabledWithoutCloudName(t *testing.T) {
	s := newTestService(t, "secret")
	_, err := s.UploadImage(context.Background(), strings.NewReader("img"), "chats")
	if !errs.Is(err, errs.KindTransient) {
		t.Fatalf("err = %v", err)
	}
}
