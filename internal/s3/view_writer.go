package s3

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

type uploadFunc func(ctx context.Context, objectPath string, data []byte) error

// ViewWriter buffers the observation stream per view and uploads the located
// units of a view as "index,u,v" CSV once the view is done.
type ViewWriter struct {
	ctx     context.Context
	project string
	upload  uploadFunc

	mu       sync.Mutex
	pending  map[int][]models.Observation
	uploaded []string
	errs     []error
}

func newViewWriter(ctx context.Context, project string, upload uploadFunc) *ViewWriter {
	return &ViewWriter{
		ctx:     ctx,
		project: project,
		upload:  upload,
		pending: make(map[int][]models.Observation),
	}
}

func (w *ViewWriter) Put(obs models.Observation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[obs.ViewID] = append(w.pending[obs.ViewID], obs)
}

func (w *ViewWriter) Done(viewID int) {
	w.mu.Lock()
	observations := w.pending[viewID]
	delete(w.pending, viewID)
	w.mu.Unlock()

	data, err := renderCSV(observations)
	if err == nil {
		path := viewObjectPath(w.project, viewID)
		err = w.upload(w.ctx, path, data)
		if err == nil {
			log.Printf("S3: saved view %d to %s", viewID, path)
			w.mu.Lock()
			w.uploaded = append(w.uploaded, path)
			w.mu.Unlock()
			return
		}
	}

	log.Printf("S3: failed to save view %d: %v", viewID, err)
	w.mu.Lock()
	w.errs = append(w.errs, err)
	w.mu.Unlock()
}

// Uploaded returns the object paths written so far.
func (w *ViewWriter) Uploaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.uploaded...)
}

func (w *ViewWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.errs...)
}

// renderCSV keeps located units only, ordered by unit id.
func renderCSV(observations []models.Observation) ([]byte, error) {
	located := make([]models.Observation, 0, len(observations))
	for _, o := range observations {
		if o.Success && o.Point != nil {
			located = append(located, o)
		}
	}
	sort.Slice(located, func(i, j int) bool { return located[i].UnitID < located[j].UnitID })

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{"index", "u", "v"}); err != nil {
		return nil, err
	}
	for _, o := range located {
		row := []string{
			strconv.Itoa(o.UnitID),
			strconv.FormatFloat(o.Point.X, 'f', 6, 64),
			strconv.FormatFloat(o.Point.Y, 'f', 6, 64),
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}
