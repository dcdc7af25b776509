package service

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"fanvault/internal/config"
	"fanvault/internal/models"
	"fanvault/internal/observability"
	"fanvault/internal/repository"
	"fanvault/internal/storage"

	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultMaxUploadSizeMB = 10
	maxTitleLength         = 255
	maxDescriptionLength   = 5000
)

// platformMIMETypes is every media type the platform stores anywhere.
var platformMIMETypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"audio/mpeg", "audio/ogg", "audio/wav", "audio/flac",
	"video/mp4", "video/webm", "video/quicktime",
}

type SubmitInput struct {
	SubmitterID uint
	Title       string
	Description string
	Category    string
	Filename    string
	ContentType string
	Content     []byte
}

// IntakeService accepts user uploads into the staging area as pending
// submissions.
type IntakeService struct {
	repo               repository.SubmissionRepository
	staging            *storage.StagingStore
	maxUploadSizeBytes int64
	opts               options
}

func NewIntakeService(repo repository.SubmissionRepository, staging *storage.StagingStore, cfg *config.Config, opts ...Option) *IntakeService {
	maxUploadSizeMB := DefaultMaxUploadSizeMB
	if cfg != nil && cfg.MaxUploadSizeMB > 0 {
		maxUploadSizeMB = cfg.MaxUploadSizeMB
	}

	return &IntakeService{
		repo:               repo,
		staging:            staging,
		maxUploadSizeBytes: int64(maxUploadSizeMB) * 1024 * 1024,
		opts:               buildOptions(opts),
	}
}

// Submit validates the upload, stages its bytes and records a pending row.
// Either both the staged file and the row exist afterwards or neither does.
func (s *IntakeService) Submit(ctx context.Context, in SubmitInput) (*models.PendingSubmission, error) {
	sub, err := s.submit(ctx, in)
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
		if models.ErrorCode(err) == models.CodeInternal {
			outcome = "error"
		}
	}
	observability.SubmissionsTotal.WithLabelValues(categoryLabel(in.Category), outcome).Inc()
	return sub, err
}

func (s *IntakeService) submit(ctx context.Context, in SubmitInput) (*models.PendingSubmission, error) {
	if in.SubmitterID == 0 {
		return nil, models.NewValidationError("Invalid user")
	}
	if len(in.Content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if int64(len(in.Content)) > s.maxUploadSizeBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxUploadSizeBytes/(1024*1024)))
	}

	category, ok := models.ParseCategory(in.Category)
	if !ok {
		return nil, models.NewValidationError(fmt.Sprintf("Invalid category %q", in.Category))
	}

	detected := mimetype.Detect(in.Content)
	detectedType, ok := allowedPlatformMIME(detected)
	if !ok {
		return nil, models.NewValidationError("Unsupported file type")
	}
	if !strings.HasPrefix(detectedType, "image/") {
		return nil, models.NewValidationError("Only image submissions are accepted")
	}
	if provided := normalizeContentType(in.ContentType); strings.HasPrefix(provided, "image/") && !isMatchingContentType(provided, detectedType) {
		return nil, models.NewValidationError("Image content type mismatch")
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultTitle(in.Filename)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, models.NewValidationError(fmt.Sprintf("Title too long (max %d characters)", maxTitleLength))
	}
	description := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, models.NewValidationError(fmt.Sprintf("Description too long (max %d characters)", maxDescriptionLength))
	}

	originalName := filepath.Base(strings.ReplaceAll(in.Filename, "\\", "/"))
	if originalName == "." || originalName == "/" {
		originalName = ""
	}
	name := storage.StagedName(s.opts.clock.Now(), s.opts.tokens.New(), originalName)

	stagedPath, err := s.staging.Write(string(category), name, in.Content)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("stage upload: %w", err))
	}

	sub := &models.PendingSubmission{
		Title:            title,
		Description:      description,
		Category:         category,
		OriginalFilename: originalNameOrDefault(originalName),
		FileSizeBytes:    int64(len(in.Content)),
		MimeType:         detectedType,
		StagedPath:       stagedPath,
		PublicURL:        s.staging.PreviewURL(stagedPath),
		Status:           models.SubmissionStatusPending,
		SubmitterID:      in.SubmitterID,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		if rmErr := s.staging.Delete(stagedPath); rmErr != nil {
			slog.ErrorContext(ctx, "failed to remove staged file after insert failure", "staged_path", stagedPath, "err", rmErr)
		}
		return nil, models.NewInternalError(fmt.Errorf("record submission: %w", err))
	}

	slog.InfoContext(ctx, "submission staged",
		"submission_id", sub.ID,
		"category", sub.Category,
		"mime_type", sub.MimeType,
		"size_bytes", sub.FileSizeBytes,
	)
	return sub, nil
}

func allowedPlatformMIME(detected *mimetype.MIME) (string, bool) {
	for _, allowed := range platformMIMETypes {
		if detected.Is(allowed) {
			return allowed, true
		}
	}
	return "", false
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isMatchingContentType(provided, detected string) bool {
	p := normalizeContentType(provided)
	d := normalizeContentType(detected)
	if p == d {
		return true
	}
	return (p == "image/jpg" && d == "image/jpeg") || (p == "image/jpeg" && d == "image/jpg")
}

func defaultTitle(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" || title == "." || title == "/" {
		return "Untitled"
	}
	if r := []rune(title); len(r) > maxTitleLength {
		title = string(r[:maxTitleLength])
	}
	return title
}

func originalNameOrDefault(name string) string {
	if name == "" {
		return "upload"
	}
	return name
}

func categoryLabel(raw string) string {
	if c, ok := models.ParseCategory(raw); ok {
		return string(c)
	}
	return "invalid"
}
