package domain

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestConfig_JSONRoundtrip_ShouldPreserveData(t *testing.T) {
	want := Config{
		Imagemage: ImagemageConfig{
			Binary:             "imagemage",
			OutputDir:          "/tmp/out",
			DownloadTimeoutSec: 30,
			ProcessTimeoutSec:  60,
			MaxDownloadBytes:   1024,
			DefaultModel:       "flash",
			AutoOpen:           true,
		},
		Gateway: GatewayConfig{Port: 8080, Auth: AuthConfig{AuthToken: "bearer-secret"}},
		Infra:   InfraConfig{LogFormat: "json", LogLevel: "info"},
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Config
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != want {
		t.Errorf("roundtrip mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestAttachment_MarshalJSON_ShouldEncodeDataAsBase64(t *testing.T) {
	a := Attachment{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["data"] != base64.StdEncoding.EncodeToString(a.Data) {
		t.Errorf("data: want base64 %q, got %q", base64.StdEncoding.EncodeToString(a.Data), raw["data"])
	}
	if raw["mime_type"] != "image/png" {
		t.Errorf("mime_type: want image/png, got %q", raw["mime_type"])
	}
}

func TestAttachment_ImageBlock_ShouldCarryMIMETypeAndBase64Data(t *testing.T) {
	a := Attachment{Data: []byte("jpegdata"), MIMEType: "image/jpeg"}
	b := a.ImageBlock()
	if b.Type() != BlockImage {
		t.Errorf("type: want %q, got %q", BlockImage, b.Type())
	}
	if b.Source.Type != "base64" {
		t.Errorf("source.type: want base64, got %q", b.Source.Type)
	}
	if b.Source.MediaType != "image/jpeg" {
		t.Errorf("source.media_type: want image/jpeg, got %q", b.Source.MediaType)
	}
	decoded, err := base64.StdEncoding.DecodeString(b.Source.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != "jpegdata" {
		t.Errorf("data: want jpegdata, got %q", decoded)
	}
}

func TestToolResult_Blocks_ShouldPutTextBeforeAttachments(t *testing.T) {
	r := &ToolResult{
		Data: "saved",
		Attachments: []Attachment{
			{Data: []byte("a"), MIMEType: "image/png"},
			{Data: []byte("b"), MIMEType: "image/webp"},
		},
	}
	blocks := r.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	tb, ok := blocks[0].(TextBlock)
	if !ok || tb.Text != "saved" {
		t.Errorf("first block: want TextBlock{saved}, got %#v", blocks[0])
	}
	ib, ok := blocks[2].(ImageBlock)
	if !ok || ib.Source.MediaType != "image/webp" {
		t.Errorf("last block: want webp ImageBlock, got %#v", blocks[2])
	}
}

func TestToolResult_Blocks_WhenNil_ShouldReturnNil(t *testing.T) {
	var r *ToolResult
	if r.Blocks() != nil {
		t.Error("expected nil blocks for nil result")
	}
}
