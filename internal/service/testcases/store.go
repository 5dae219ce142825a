// Package testcases stores test-case bodies as one gzipped JSON blob per
// problem and keeps the denormalized count on the Problem item converging
// with the blob.
package testcases

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// tccRetries bounds the compensating retry when the blob write lands but the
// count update races. Persistent divergence is left to the recovery sweep.
const tccRetries = 3

// Store implements domain.TestCaseStore over the object store.
type Store struct {
	blobs     domain.ObjectStore
	problems  domain.ProblemRepository
	gzipLevel int
	maxCount  int
}

func NewStore(blobs domain.ObjectStore, problems domain.ProblemRepository, gzipLevel, maxCount int) *Store {
	if gzipLevel < gzip.HuffmanOnly || gzipLevel > gzip.BestCompression {
		gzipLevel = 6
	}
	return &Store{blobs: blobs, problems: problems, gzipLevel: gzipLevel, maxCount: maxCount}
}

// BlobKey is the deterministic object key for a problem's test cases.
func BlobKey(platform, problemID string) string {
	return fmt.Sprintf("testcases/%s/%s/testcases.json.gz", platform, problemID)
}

// Save replaces the blob and converges tcc on the problem item.
func (s *Store) Save(ctx domain.Context, platform, problemID string, cases []domain.TestCase) error {
	op := "testcases.save"
	if s.maxCount > 0 && len(cases) > s.maxCount {
		return fmt.Errorf("op=%s: %w: %d cases exceeds max %d", op, domain.ErrInvalidArgument, len(cases), s.maxCount)
	}
	body, err := s.pack(cases)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	info, err := s.blobs.Put(ctx, BlobKey(platform, problemID), body)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	observability.LoggerFromContext(ctx).Debug("test case blob written",
		slog.String("key", info.Key), slog.Int64("version", info.Version),
		slog.Int64("size", info.Size), slog.Int("count", len(cases)))

	if err := s.converge(ctx, platform, problemID, len(cases)); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	return nil
}

// converge retries the tcc update until the item agrees with the blob.
func (s *Store) converge(ctx domain.Context, platform, problemID string, n int) error {
	var err error
	for i := 0; i < tccRetries; i++ {
		err = s.problems.SetTestCaseCount(ctx, platform, problemID, n)
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return err
}

// Load returns the decompressed ordered test-case list.
func (s *Store) Load(ctx domain.Context, platform, problemID string) ([]domain.TestCase, error) {
	op := "testcases.load"
	body, _, err := s.blobs.Get(ctx, BlobKey(platform, problemID))
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	cases, err := s.unpack(body)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	return cases, nil
}

// Delete removes the blob and zeroes the count.
func (s *Store) Delete(ctx domain.Context, platform, problemID string) error {
	op := "testcases.delete"
	if err := s.blobs.Delete(ctx, BlobKey(platform, problemID)); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if err := s.converge(ctx, platform, problemID, 0); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	return nil
}

func (s *Store) pack(cases []domain.TestCase) ([]byte, error) {
	raw, err := json.Marshal(cases)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, s.gzipLevel)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) unpack(body []byte) ([]domain.TestCase, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if err := zr.Close(); err != nil {
		return nil, err
	}
	var cases []domain.TestCase
	if err := json.Unmarshal(raw, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}
