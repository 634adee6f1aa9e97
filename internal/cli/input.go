package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/trace"
	apiclient "github.com/splax/memtimeline/pkg/api/client"
)

// defaultInteractionLabel names the window spanning every dump when no
// interaction is supplied for sampled input.
const defaultInteractionLabel = "all"

var errNoInteractions = errors.New("no interactions: pass --interaction label:startMs:endMs")

// timelineInput is either a trace file or a dumps file written by sample.
type timelineInput struct {
	dumps        []domain.ProcessDump
	interactions []domain.Interaction
}

// readTimeline loads path, which holds either a trace or the output of the
// sample command. "-" reads stdin.
func readTimeline(path string, stdin io.Reader) (timelineInput, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return timelineInput{}, fmt.Errorf("read %s: %w", path, err)
	}

	if isDumpsFile(raw) {
		var doc apiclient.Timeline
		if err := json.Unmarshal(raw, &doc); err != nil {
			return timelineInput{}, fmt.Errorf("decode dumps file: %w", err)
		}
		return timelineInput{
			dumps:        fromWireDumps(doc.ProcessDumps),
			interactions: fromWireInteractions(doc.Interactions),
		}, nil
	}

	model, err := trace.Parse(bytes.NewReader(raw))
	if err != nil {
		return timelineInput{}, err
	}
	return timelineInput{dumps: model.ProcessDumps, interactions: model.Interactions}, nil
}

func isDumpsFile(raw []byte) bool {
	var probe struct {
		ProcessDumps json.RawMessage `json:"process_dumps"`
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	return probe.ProcessDumps != nil
}

// parseInteraction reads label:startMs:endMs. The label may itself contain
// colons; the last two fields are the bounds in milliseconds.
func parseInteraction(value string) (domain.Interaction, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 3 {
		return domain.Interaction{}, fmt.Errorf("interaction %q: want label:startMs:endMs", value)
	}
	label := strings.TrimSpace(strings.Join(parts[:len(parts)-2], ":"))
	if label == "" {
		return domain.Interaction{}, fmt.Errorf("interaction %q: empty label", value)
	}
	start, err := parseMillis(parts[len(parts)-2])
	if err != nil {
		return domain.Interaction{}, fmt.Errorf("interaction %q: start: %w", value, err)
	}
	end, err := parseMillis(parts[len(parts)-1])
	if err != nil {
		return domain.Interaction{}, fmt.Errorf("interaction %q: end: %w", value, err)
	}
	in := domain.Interaction{Label: label, Start: start, End: end}
	if err := in.Validate(); err != nil {
		return domain.Interaction{}, err
	}
	return in, nil
}

// maxMillis is the largest millisecond offset a time.Duration holds.
const maxMillis = float64(math.MaxInt64 / int64(time.Millisecond))

func parseMillis(value string) (time.Duration, error) {
	ms, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) >= maxMillis {
		return 0, fmt.Errorf("%s ms is out of range", value)
	}
	return time.Duration(ms*1000) * time.Microsecond, nil
}

func parseInteractions(values []string) ([]domain.Interaction, error) {
	out := make([]domain.Interaction, 0, len(values))
	for _, v := range values {
		in, err := parseInteraction(v)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// resolveInteractions prefers flag values, then those carried by the input.
// With neither and spanAll set, one interaction covers every dump.
func resolveInteractions(flags []string, input timelineInput, spanAll bool) ([]domain.Interaction, error) {
	if len(flags) > 0 {
		return parseInteractions(flags)
	}
	if len(input.interactions) > 0 {
		return input.interactions, nil
	}
	if !spanAll || len(input.dumps) == 0 {
		return nil, errNoInteractions
	}
	span := domain.Interaction{Label: defaultInteractionLabel, Start: input.dumps[0].Timestamp, End: input.dumps[0].Timestamp}
	for _, d := range input.dumps[1:] {
		span.Start = min(span.Start, d.Timestamp)
		span.End = max(span.End, d.Timestamp)
	}
	return []domain.Interaction{span}, nil
}

func toWireDumps(dumps []domain.ProcessDump) []apiclient.ProcessDump {
	out := make([]apiclient.ProcessDump, 0, len(dumps))
	for _, d := range dumps {
		out = append(out, apiclient.ProcessDump{
			DumpID:      d.DumpID,
			PID:         d.PID,
			Category:    string(d.Category),
			TimestampUS: d.Timestamp.Microseconds(),
			MemoryUsage: d.MemoryUsage,
		})
	}
	return out
}

func fromWireDumps(dumps []apiclient.ProcessDump) []domain.ProcessDump {
	out := make([]domain.ProcessDump, 0, len(dumps))
	for _, d := range dumps {
		ts := time.Duration(d.TimestampUS) * time.Microsecond
		out = append(out, domain.NewProcessDump(d.DumpID, d.PID, domain.ParseCategory(d.Category), ts, d.MemoryUsage))
	}
	return out
}

func toWireInteractions(interactions []domain.Interaction) []apiclient.Interaction {
	out := make([]apiclient.Interaction, 0, len(interactions))
	for _, in := range interactions {
		out = append(out, apiclient.Interaction{
			Label:   in.Label,
			StartUS: in.Start.Microseconds(),
			EndUS:   in.End.Microseconds(),
		})
	}
	return out
}

func fromWireInteractions(interactions []apiclient.Interaction) []domain.Interaction {
	out := make([]domain.Interaction, 0, len(interactions))
	for _, in := range interactions {
		out = append(out, domain.Interaction{
			Label: in.Label,
			Start: time.Duration(in.StartUS) * time.Microsecond,
			End:   time.Duration(in.EndUS) * time.Microsecond,
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
