package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/jamie-anson/placeflow-ingestor/internal/external"
	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/logging"
	"github.com/jamie-anson/placeflow-ingestor/internal/media"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// ImageFetcher retrieves the raw bytes of a remote image. Splitting this out
// of TaskExecutor lets tests stub the network fetch independently of the
// image-processor collaborator call.
type ImageFetcher func(ctx context.Context, url string) (data []byte, contentType string, err error)

// HTTPImageFetcher is the default ImageFetcher, fetching over plain HTTP(S).
func HTTPImageFetcher(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// TaskExecutor performs the enrichment work an UpdateTask's Ops name: a
// menus or reviews op re-crawls the place and refreshes its stored fields, a
// reviews op additionally regenerates its description, and an images op
// downloads each crawled image, hands it to the image-processor
// collaborator, and persists it through media storage.
type TaskExecutor struct {
	Places         *store.PlaceRepo
	Media          *store.MediaRepo
	Storage        media.Storage
	Crawler        *external.CrawlerClient
	Description    *external.DescriptionClient
	ImageProcessor *external.ImageProcessorClient
	FetchImage     ImageFetcher
}

// NewTaskExecutor wires a TaskExecutor from its collaborators, defaulting
// FetchImage to HTTPImageFetcher.
func NewTaskExecutor(places *store.PlaceRepo, mediaRepo *store.MediaRepo, storage media.Storage, crawler *external.CrawlerClient, description *external.DescriptionClient, imageProcessor *external.ImageProcessorClient) *TaskExecutor {
	return &TaskExecutor{
		Places:         places,
		Media:          mediaRepo,
		Storage:        storage,
		Crawler:        crawler,
		Description:    description,
		ImageProcessor: imageProcessor,
		FetchImage:     HTTPImageFetcher,
	}
}

// Execute runs every enrichment operation task.Ops names against task.PlaceID.
func (e *TaskExecutor) Execute(ctx context.Context, task *models.UpdateTask) error {
	place, err := e.Places.GetByID(ctx, task.PlaceID)
	if err != nil {
		return err
	}

	var crawled *external.CrawledPlace
	if task.Ops.Menus || task.Ops.Reviews || task.Ops.Images {
		crawled, err = e.Crawler.Crawl(ctx, place.Name, place.Name)
		if err != nil {
			return err
		}
	}

	if task.Ops.Menus || task.Ops.Reviews {
		if err := e.Places.UpdateFields(ctx, place.ID, crawled.Category, crawled.Address, crawled.Latitude, crawled.Longitude); err != nil {
			return err
		}
	}

	if task.Ops.Reviews {
		if _, err := e.Description.Describe(ctx, *crawled); err != nil {
			return err
		}
	}

	if task.Ops.Images {
		for _, url := range crawled.ImageURLs {
			if err := e.processImage(ctx, place.ID, url); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *TaskExecutor) processImage(ctx context.Context, placeID int64, url string) error {
	data, contentType, err := e.FetchImage(ctx, url)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TransientErrorType, "failed to fetch image")
	}

	fileName := path.Base(url)
	if fileName == "." || fileName == "/" || fileName == "" {
		fileName = fmt.Sprintf("place-%d-image", placeID)
	}

	storedFileName, err := e.ImageProcessor.Process(ctx, url, fileName)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Debug().
		Int64("place_id", placeID).
		Str("stored_file_name", storedFileName).
		Msg("image processor accepted image")

	storageKey, err := e.Storage.Store(ctx, data, contentType)
	if err != nil {
		return err
	}

	asset := &models.MediaAsset{
		PlaceID:     placeID,
		SourceURL:   url,
		StorageKey:  storageKey,
		ContentType: contentType,
		Bytes:       int64(len(data)),
	}
	return e.Media.Insert(ctx, asset)
}
