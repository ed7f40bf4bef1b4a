package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/neilberkman/chatsync/internal/core/db"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/pkg/chatlog"
)

// Importer loads conversation archives into the local store
type Importer struct {
	db     *db.DB
	logger *log.Logger
}

// New creates a new importer. A nil logger discards warnings.
func New(database *db.DB, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Importer{db: database, logger: logger}
}

// Result describes one imported archive
type Result struct {
	Path         string
	Conversation models.Conversation
	Imported     bool // false when the archive was imported before
	Messages     int
}

// ImportConversation stores a parsed archive for ownerID
func (i *Importer) ImportConversation(ctx context.Context, ownerID string, conv *chatlog.ParsedConversation) (Result, error) {
	hash, err := archiveHash(conv)
	if err != nil {
		return Result{}, fmt.Errorf("failed to hash archive: %w", err)
	}

	msgs := make([]models.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		content := models.SanitizeMessage(m.Content)
		if content == "" {
			continue
		}
		msgs = append(msgs, models.Message{
			Content:     content,
			IsAutomated: m.IsAutomated(),
			CreatedAt:   m.Timestamp,
		})
	}

	stored, imported, err := i.db.ImportConversation(ctx, ownerID, models.Conversation{
		Title:     importTitle(conv.Title),
		CreatedAt: conv.CreatedAt,
	}, msgs, db.ImportSource{Path: conv.FilePath, Hash: hash})
	if err != nil {
		return Result{}, err
	}
	return Result{Path: conv.FilePath, Conversation: stored, Imported: imported, Messages: len(msgs)}, nil
}

// ImportPaths imports archive files, walking directories for .jsonl files.
// Files that fail to parse or import are logged and skipped.
func (i *Importer) ImportPaths(ctx context.Context, ownerID string, paths []string, progress ProgressCallback) ([]Result, error) {
	files, err := FindArchives(paths)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress.Start(len(files))
	}

	var results []Result
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		conv, err := chatlog.ParseFile(file)
		if err != nil {
			i.logger.Warn("failed to parse archive", "file", file, "err", err)
			continue
		}

		res, err := i.ImportConversation(ctx, ownerID, conv)
		if err != nil {
			i.logger.Warn("failed to import archive", "file", file, "err", err)
			continue
		}
		results = append(results, res)

		// Update progress
		if progress != nil {
			firstMsg := ""
			if len(conv.Messages) > 0 {
				firstMsg = models.Preview(conv.Messages[0].Content, 100)
			}
			progress.Update(res.Conversation.Title, firstMsg)
		}
	}
	if progress != nil {
		progress.Finish()
	}
	return results, nil
}

// FindArchives expands directories into the .jsonl files beneath them
func FindArchives(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.Walk(p, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(path) == ".jsonl" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
	}
	return files, nil
}

// importTitle fits an archive title to the title rules
func importTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return models.DefaultTitle
	}
	if r := []rune(title); len(r) > models.MaxTitleLength {
		title = string(r[:models.MaxTitleLength])
	}
	if clean, err := models.ValidateTitle(title); err == nil {
		return clean
	}
	return models.DefaultTitle
}

// archiveHash hashes the file when there is one, otherwise the parsed content
func archiveHash(conv *chatlog.ParsedConversation) (string, error) {
	if conv.FilePath != "" {
		return computeFileHash(conv.FilePath)
	}
	hash := sha256.New()
	_, _ = fmt.Fprintf(hash, "%s\x00%s\x00", conv.ConversationID, conv.Title)
	for _, m := range conv.Messages {
		_, _ = fmt.Fprintf(hash, "%s\x00%s\x00%s\x00", m.Sender, m.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"), m.Content)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func computeFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
