package assets

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"memorial-server/shared/models"

	"go.uber.org/zap"
)

var _ Store = (*CloudinaryStore)(nil)

// CloudinaryConfig configures the HTTP asset API.
type CloudinaryConfig struct {
	BaseURL        string // e.g. https://api.cloudinary.com/v1_1
	CloudName      string
	UploadPreset   string // unsigned preset used for uploads
	APIKey         string // used only for signed destroy
	APISecret      string
	Transformation string // thumbnail transformation
}

// CloudinaryStore talks to a Cloudinary-compatible upload API.
type CloudinaryStore struct {
	cfg        CloudinaryConfig
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

// NewCloudinaryStore creates the store. Request deadlines come from the caller's context.
func NewCloudinaryStore(cfg CloudinaryConfig, httpClient *http.Client, logger *zap.Logger) *CloudinaryStore {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &CloudinaryStore{
		cfg:        cfg,
		httpClient: httpClient,
		now:        time.Now,
		logger:     logger.Named("CloudinaryStore"),
	}
}

type cloudinaryUploadResponse struct {
	SecureURL    string `json:"secure_url"`
	PublicID     string `json:"public_id"`
	ResourceType string `json:"resource_type"`
	Format       string `json:"format"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Bytes        int64  `json:"bytes"`
}

func (s *CloudinaryStore) Upload(ctx context.Context, file File, folder string, tags []string) (*models.AssetDescriptor, error) {
	log := s.logger.With(zap.String("file", file.Name), zap.Int64("size", file.Size))

	body, contentType, err := s.uploadBody(file, folder, tags)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/auto/upload", s.cfg.BaseURL, url.PathEscape(s.cfg.CloudName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn("Upload request failed", zap.Error(err))
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		log.Warn("Asset store rejected upload", zap.Int("status_code", resp.StatusCode), zap.ByteString("body", raw[:min(len(raw), 512)]))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: errorMessage(raw)}
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", readErr)
	}

	var out cloudinaryUploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if out.SecureURL == "" || out.PublicID == "" {
		return nil, fmt.Errorf("upload response is missing secure_url or public_id")
	}

	desc := &models.AssetDescriptor{
		URL:          out.SecureURL,
		PublicID:     out.PublicID,
		ResourceType: out.ResourceType,
		Format:       out.Format,
		Width:        out.Width,
		Height:       out.Height,
		Bytes:        out.Bytes,
	}
	desc.ThumbnailURL = ThumbnailURL(desc.URL, s.cfg.Transformation, out.ResourceType == "video")
	log.Debug("Asset uploaded", zap.String("publicID", desc.PublicID))
	return desc, nil
}

func (s *CloudinaryStore) uploadBody(file File, folder string, tags []string) (io.Reader, string, error) {
	src, err := file.Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", file.Name, err)
	}
	defer src.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{"upload_preset": s.cfg.UploadPreset}
	if folder != "" {
		fields["folder"] = folder
	}
	if len(tags) > 0 {
		fields["tags"] = strings.Join(tags, ",")
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", fmt.Errorf("failed to copy %s: %w", file.Name, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Destroy calls the signed destroy endpoint. A "not found" result counts as success.
func (s *CloudinaryStore) Destroy(ctx context.Context, publicID, resourceType string) error {
	if resourceType == "" {
		resourceType = "image"
	}
	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	form := url.Values{
		"public_id": {publicID},
		"timestamp": {timestamp},
		"api_key":   {s.cfg.APIKey},
		"signature": {s.sign(map[string]string{"public_id": publicID, "timestamp": timestamp})},
	}

	endpoint := fmt.Sprintf("%s/%s/%s/destroy", s.cfg.BaseURL, url.PathEscape(s.cfg.CloudName), url.PathEscape(resourceType))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create destroy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("destroy request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: errorMessage(raw)}
	}
	var out struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode destroy response: %w", err)
	}
	if out.Result != "ok" && out.Result != "not found" {
		return fmt.Errorf("destroy of %s returned %q", publicID, out.Result)
	}
	return nil
}

// sign builds the API signature: sorted key=value pairs joined by "&", then the secret, sha1 hex.
func (s *CloudinaryStore) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + s.cfg.APISecret))
	return hex.EncodeToString(sum[:])
}

// errorMessage extracts {"error":{"message":...}}. Anything else, such as an
// HTML page from a proxy, yields "" and never reaches the user.
func errorMessage(raw []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return ""
}
