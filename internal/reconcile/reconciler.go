package reconcile

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/danmuck/notebookd/internal/kernel"
	"github.com/danmuck/notebookd/internal/observability"
	"github.com/rs/zerolog"
)

// Kind is the display kind of an output record.
type Kind string

const (
	KindStdout  Kind = "stdout-text"
	KindDisplay Kind = "display-image-or-text"
)

// Record is one unit of cell output attributed to a run.
type Record struct {
	ID          string `json:"id"`
	RunIndex    int    `json:"run_index"`
	OutputIndex int    `json:"output_index"`
	Kind        Kind   `json:"kind"`
	Text        string `json:"text,omitempty"`
	// Image is base64-encoded PNG data.
	Image    string `json:"image,omitempty"`
	HasText  bool   `json:"has_text"`
	HasImage bool   `json:"has_image"`
}

// Summary describes a finished submission.
type Summary struct {
	RunIndex int  `json:"run_index"`
	RunKnown bool `json:"run_known"`
	Emitted  int  `json:"emitted"`
	Dropped  int  `json:"dropped"`
	Skipped  int  `json:"skipped"`
}

// Source yields kernel messages in arrival order, returning io.EOF on completion.
type Source interface {
	Next(ctx context.Context) (kernel.Message, error)
}

// Reconciler holds the per-submission state. It is not safe for concurrent use;
// one submission is folded by one goroutine.
type Reconciler struct {
	log zerolog.Logger

	runKnown bool
	runIndex int
	next     int
	pending  []Record
	done     bool

	emitted int
	dropped int
	skipped int
}

func New(logger zerolog.Logger) *Reconciler {
	return &Reconciler{log: logger}
}

// Step applies one classified event and returns the records that became
// emittable, in output order.
func (r *Reconciler) Step(ev Event) []Record {
	if r.done {
		return nil
	}

	var rec Record
	switch ev.Kind {
	case EventRunCount:
		return r.resolve(ev.Count)
	case EventStdout:
		rec = Record{Kind: KindStdout, Text: ev.Text, HasText: true}
	case EventDisplay:
		text, hasText := ev.Data.Lookup(MimeTextPlain)
		image, hasImage := ev.Data.Lookup(MimeImagePNG)
		rec = Record{
			Kind:     KindDisplay,
			Text:     text,
			HasText:  hasText,
			Image:    image,
			HasImage: hasImage,
		}
	default:
		return nil
	}

	rec.ID = ev.ID
	if rec.ID == "" {
		rec.ID = "out." + strconv.Itoa(r.next)
	}
	rec.OutputIndex = r.next
	r.next++

	if !r.runKnown {
		r.pending = append(r.pending, rec)
		return nil
	}
	rec.RunIndex = r.runIndex
	r.emitted++
	return []Record{rec}
}

// resolve records the run index. The first resolution flushes the pending queue;
// later ones only retarget subsequent records.
func (r *Reconciler) resolve(count int) []Record {
	if r.runKnown {
		if count != r.runIndex {
			r.log.Warn().
				Int("previous_run", r.runIndex).
				Int("run", count).
				Msg("run index changed mid-stream")
		}
		r.runIndex = count
		return nil
	}
	r.runKnown = true
	r.runIndex = count

	flushed := r.pending
	r.pending = nil
	for i := range flushed {
		flushed[i].RunIndex = count
	}
	r.emitted += len(flushed)
	return flushed
}

// Feed classifies msg and steps it. Malformed messages are logged and skipped.
func (r *Reconciler) Feed(msg kernel.Message) []Record {
	if r.done {
		return nil
	}
	ev, err := Classify(msg)
	if err != nil {
		r.skipped++
		observability.RecordClassificationFailure()
		r.log.Warn().
			Err(err).
			Str("msg_id", msg.ID()).
			Str("msg_type", msg.Type()).
			Msg("skipping unclassifiable kernel message")
		return nil
	}
	out := r.Step(ev)
	observability.RecordRecordsEmitted(len(out))
	return out
}

// Close ends the submission. Records still waiting for a run index are dropped;
// they stay visible through Pending for diagnostics.
func (r *Reconciler) Close() {
	if r.done {
		return
	}
	r.done = true
	r.dropped = len(r.pending)
	if r.dropped > 0 {
		observability.RecordRecordsDropped(r.dropped)
		r.log.Warn().
			Int("dropped", r.dropped).
			Msg("submission completed without an execution count; pending output dropped")
	}
}

// Pending returns a copy of the records waiting for a run index.
func (r *Reconciler) Pending() []Record {
	out := make([]Record, len(r.pending))
	copy(out, r.pending)
	return out
}

// RunIndex reports the resolved run index, if any.
func (r *Reconciler) RunIndex() (int, bool) {
	return r.runIndex, r.runKnown
}

func (r *Reconciler) Done() bool {
	return r.done
}

func (r *Reconciler) Summary() Summary {
	return Summary{
		RunIndex: r.runIndex,
		RunKnown: r.runKnown,
		Emitted:  r.emitted,
		Dropped:  r.dropped,
		Skipped:  r.skipped,
	}
}

// Run folds src until completion, handing each emittable record to emit in order.
// A transport error ends the submission like completion does and is returned.
func (r *Reconciler) Run(ctx context.Context, src Source, emit func(Record)) (Summary, error) {
	for {
		msg, err := src.Next(ctx)
		if err != nil {
			r.Close()
			if errors.Is(err, io.EOF) {
				return r.Summary(), nil
			}
			return r.Summary(), err
		}
		for _, rec := range r.Feed(msg) {
			emit(rec)
		}
	}
}
