package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"drawdeck/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	boardPrefix  = "boards/"
	exportPrefix = "exports/"
)

// storedBoard mirrors the filesystem store's on-disk form: ownership
// is hidden from API JSON but must survive the round-trip to S3.
type storedBoard struct {
	core.Board
	OwnerID string `json:"ownerId"`
}

type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func boardKey(id string) (string, error) {
	if id == "" || path.Base(id) != id || strings.HasPrefix(id, ".") {
		return "", core.ErrBoardNotFound
	}
	return boardPrefix + id + ".json", nil
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	return errors.As(err, &noKey)
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *s3Store) readBoard(ctx context.Context, id string) (*storedBoard, error) {
	key, err := boardKey(id)
	if err != nil {
		return nil, err
	}
	data, err := s.getObject(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, core.ErrBoardNotFound
		}
		return nil, err
	}
	var stored storedBoard
	if err := json.Unmarshal(data, &stored); err != nil {
		logrus.WithField("board_id", id).WithError(err).Error("Failed to decode board object")
		return nil, err
	}
	stored.Board.OwnerID = stored.OwnerID
	return &stored, nil
}

func (s *s3Store) writeBoard(ctx context.Context, board *core.Board) error {
	key, err := boardKey(board.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(storedBoard{Board: *board, OwnerID: board.OwnerID})
	if err != nil {
		return err
	}
	return s.putObject(ctx, key, data)
}

func (s *s3Store) Create(ctx context.Context, board *core.Board) error {
	now := time.Now()
	board.CreatedAt = now
	board.UpdatedAt = now

	if err := s.writeBoard(ctx, board); err != nil {
		logrus.WithField("board_id", board.ID).WithError(err).Error("Failed to upload board")
		return err
	}
	logrus.WithFields(logrus.Fields{"board_id": board.ID, "owner_id": board.OwnerID}).Info("Board created")
	return nil
}

func (s *s3Store) List(ctx context.Context, ownerID string) ([]*core.Board, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(boardPrefix),
	})
	if err != nil {
		return nil, err
	}

	boards := make([]*core.Board, 0, len(output.Contents))
	for _, object := range output.Contents {
		data, err := s.getObject(ctx, *object.Key)
		if err != nil {
			logrus.WithError(err).Warnf("Failed to get object %s, skipping", *object.Key)
			continue
		}
		var stored storedBoard
		if err := json.Unmarshal(data, &stored); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal board %s, skipping", *object.Key)
			continue
		}
		if stored.OwnerID != ownerID {
			continue
		}
		board := stored.Board
		board.OwnerID = stored.OwnerID
		board.Shapes = nil
		boards = append(boards, &board)
	}
	return boards, nil
}

func (s *s3Store) Get(ctx context.Context, id string) (*core.Board, error) {
	stored, err := s.readBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	board := stored.Board
	if board.Shapes == nil {
		board.Shapes = []core.Shape{}
	}
	return &board, nil
}

func (s *s3Store) Delete(ctx context.Context, ownerID, id string) error {
	stored, err := s.readBoard(ctx, id)
	if err != nil {
		return err
	}
	if stored.Board.OwnerID != ownerID {
		return core.ErrBoardNotFound
	}
	key, err := boardKey(id)
	if err != nil {
		return err
	}
	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *s3Store) OverwriteShapes(ctx context.Context, id string, shapes []core.Shape) error {
	stored, err := s.readBoard(ctx, id)
	if err != nil {
		if err == core.ErrBoardNotFound {
			logrus.WithField("board_id", id).Debug("Skipping shape overwrite for missing board")
			return nil
		}
		return err
	}
	stored.Board.Shapes = shapes
	stored.Board.UpdatedAt = time.Now()
	return s.writeBoard(ctx, &stored.Board)
}

func (s *s3Store) SetName(ctx context.Context, id, name string) error {
	stored, err := s.readBoard(ctx, id)
	if err != nil {
		if err == core.ErrBoardNotFound {
			return nil
		}
		return err
	}
	stored.Board.Name = name
	stored.Board.UpdatedAt = time.Now()
	return s.writeBoard(ctx, &stored.Board)
}

func (s *s3Store) SetDescription(ctx context.Context, id, description string) error {
	stored, err := s.readBoard(ctx, id)
	if err != nil {
		if err == core.ErrBoardNotFound {
			return nil
		}
		return err
	}
	stored.Board.Description = description
	stored.Board.UpdatedAt = time.Now()
	return s.writeBoard(ctx, &stored.Board)
}

// ExportStore implementation.
func (s *s3Store) CreateExport(ctx context.Context, export *core.Export) (string, error) {
	id := ulid.Make().String()
	if err := s.putObject(ctx, exportPrefix+id, export.Data); err != nil {
		logrus.WithField("export_id", id).WithError(err).Error("Failed to upload export")
		return "", err
	}
	return id, nil
}

func (s *s3Store) FindID(ctx context.Context, id string) (*core.Export, error) {
	if id == "" || path.Base(id) != id || strings.HasPrefix(id, ".") {
		return nil, core.ErrExportNotFound
	}
	data, err := s.getObject(ctx, exportPrefix+id)
	if err != nil {
		if isNotFound(err) {
			return nil, core.ErrExportNotFound
		}
		return nil, err
	}
	return &core.Export{Data: data}, nil
}
