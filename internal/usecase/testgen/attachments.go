package testgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

// EnsureUploaded makes sure the attachment is in the assistant's file store exactly once.
// uploaded is false when the attachment was skipped after a download or upload failure;
// only record store failures are returned as errors.
func (s *Service) EnsureUploaded(ctx context.Context, storyID string, attachment domaintestgen.Attachment) (ref ports.AttachmentRef, uploaded bool, err error) {
	if ctx == nil {
		return ports.AttachmentRef{}, false, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return ports.AttachmentRef{}, false, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.testgen.attachments"),
		slog.String("filename", attachment.Filename),
	)

	existing, found, err := s.records.FindAttachmentRef(ctx, storyID, attachment.Filename)
	if err != nil {
		return ports.AttachmentRef{}, false, errs.Wrap(err, "find attachment reference")
	}
	if found {
		logging.Debug(logCtx, "attachment already uploaded", slog.String("file_id", existing.ExternalFileID))
		return existing, true, nil
	}

	localPath, size, err := s.download(ctx, storyID, attachment)
	if err != nil {
		logging.Warn(logCtx, "attachment download failed, skipping", slog.Any("err", errs.Loggable(err)))
		return ports.AttachmentRef{}, false, nil
	}

	file, err := s.upload(ctx, localPath, attachment.Filename)
	if err != nil {
		logging.Warn(logCtx, "attachment upload failed, skipping", slog.Any("err", errs.Loggable(err)))
		return ports.AttachmentRef{}, false, nil
	}

	ref = ports.AttachmentRef{
		StoryID:        storyID,
		Filename:       attachment.Filename,
		ExternalFileID: file.ID,
		ByteSize:       size,
		LocalPath:      localPath,
		CreatedAt:      s.timestamp(),
	}
	if err := s.records.SaveAttachmentRef(ctx, ref); err != nil {
		return ports.AttachmentRef{}, false, errs.Wrap(err, "save attachment reference")
	}

	logging.Info(logCtx, "attachment uploaded", slog.String("file_id", file.ID), slog.Int64("bytes", size))
	return ref, true, nil
}

func (s *Service) download(ctx context.Context, storyID string, attachment domaintestgen.Attachment) (string, int64, error) {
	name, err := localFileName(attachment.Filename)
	if err != nil {
		return "", 0, err
	}
	dir := filepath.Join(s.downloadDir, storyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, errs.Wrapf(err, "create download directory %q", dir)
	}

	body, err := s.tracker.DownloadAttachment(ctx, attachment.ContentURL)
	if err != nil {
		return "", 0, errs.Wrap(err, "download attachment")
	}
	defer body.Close()

	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", 0, errs.Wrapf(err, "create %q", path)
	}
	n, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr != nil {
		return "", 0, errs.Wrapf(copyErr, "write %q", path)
	}
	if closeErr != nil {
		return "", 0, errs.Wrapf(closeErr, "close %q", path)
	}
	return path, n, nil
}

func (s *Service) upload(ctx context.Context, path string, filename string) (ports.AssistantFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return ports.AssistantFile{}, errs.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	file, err := s.assistant.UploadFile(ctx, filename, f)
	if err != nil {
		return ports.AssistantFile{}, errs.Wrap(err, "upload attachment")
	}
	return file, nil
}

func localFileName(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("invalid attachment filename %q", filename)
	}
	return name, nil
}
