package progress

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ImageFoundFormat is the line consumed by the streaming bridge. Do not change it.
const ImageFoundFormat = "Grabbed %d picture(s): %s"

const (
	LinkFoundFormat = "Grabbed link: %s"
	ErrorPrefix     = "Error:"
	doneFormat      = "[*] Scrape finished, %s."
)

var (
	imageFoundPattern = regexp.MustCompile(`^Grabbed (\d+) picture\(s\): (\S+)$`)
	linkFoundPattern  = regexp.MustCompile(`^Grabbed link: (\S+)$`)
)

var ErrTerminated = errors.New("progress stream already terminated")

// Every event is exactly one line, so line breaks inside messages and URLs are escaped.
var (
	messageBreaks = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\r`)
	urlBreaks     = strings.NewReplacer("\r", "%0D", "\n", "%0A", "\t", "%09", " ", "%20")
)

type Kind int

const (
	KindLog Kind = iota
	KindImageFound
	KindLinkFound
	KindError
	KindDone
)

func (k Kind) String() string {
	return [...]string{"log", "image_found", "link_found", "error", "done"}[k]
}

// Event is one entry of the progress stream. Index and URL are set for found images and links,
// Message for logs, errors and the completion summary.
type Event struct {
	Kind    Kind
	Message string
	Index   int
	URL     string
}

func (e Event) Terminal() bool {
	return e.Kind == KindError || e.Kind == KindDone
}

// Line renders the event in the wire format. The result never contains a line break.
func (e Event) Line() string {
	msg := messageBreaks.Replace(e.Message)
	switch e.Kind {
	case KindImageFound:
		return fmt.Sprintf(ImageFoundFormat, e.Index, urlBreaks.Replace(e.URL))
	case KindLinkFound:
		return fmt.Sprintf(LinkFoundFormat, urlBreaks.Replace(e.URL))
	case KindError:
		return ErrorPrefix + " " + msg
	case KindDone:
		return fmt.Sprintf(doneFormat, msg)
	default:
		return msg
	}
}

// ParseLine turns a wire line back into an event. Unknown lines are logs.
func ParseLine(line string) Event {
	line = strings.TrimRight(line, "\r\n")
	if m := imageFoundPattern.FindStringSubmatch(line); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return Event{Kind: KindImageFound, Index: n, URL: m[2]}
		}
	}
	if m := linkFoundPattern.FindStringSubmatch(line); m != nil {
		return Event{Kind: KindLinkFound, URL: m[1]}
	}
	if msg, ok := strings.CutPrefix(line, ErrorPrefix); ok {
		return Event{Kind: KindError, Message: strings.TrimSpace(msg)}
	}
	return Event{Kind: KindLog, Message: line}
}

// Reporter writes progress events as lines. After the first Error or Done every emit is dropped.
type Reporter struct {
	mu         sync.Mutex
	w          io.Writer
	hooks      []func(Event)
	counts     Kind
	images     int
	links      int
	terminated bool
}

// NewReporter reports a chapter scrape; its summary counts images.
func NewReporter(w io.Writer, hooks ...func(Event)) *Reporter {
	if w == nil {
		w = io.Discard
	}
	return &Reporter{w: w, hooks: hooks, counts: KindImageFound}
}

// NewLinkReporter reports a chapter-link discovery; its summary counts links.
func NewLinkReporter(w io.Writer, hooks ...func(Event)) *Reporter {
	r := NewReporter(w, hooks...)
	r.counts = KindLinkFound
	return r
}

func (r *Reporter) Log(format string, args ...any) error {
	return r.emit(Event{Kind: KindLog, Message: fmt.Sprintf(format, args...)})
}

// ImageFound reports the next image of the chapter; the running count starts at 1.
func (r *Reporter) ImageFound(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return ErrTerminated
	}
	r.images++
	return r.write(Event{Kind: KindImageFound, Index: r.images, URL: url})
}

func (r *Reporter) LinkFound(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return ErrTerminated
	}
	r.links++
	return r.write(Event{Kind: KindLinkFound, Index: r.links, URL: url})
}

func (r *Reporter) Error(message string) error {
	return r.emit(Event{Kind: KindError, Message: message})
}

func (r *Reporter) Done() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return ErrTerminated
	}
	summary := fmt.Sprintf("%d image(s) found", r.images)
	if r.counts == KindLinkFound {
		summary = fmt.Sprintf("%d link(s) found", r.links)
	}
	return r.write(Event{Kind: KindDone, Message: summary})
}

func (r *Reporter) emit(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return ErrTerminated
	}
	return r.write(e)
}

// write must be called with mu held.
func (r *Reporter) write(e Event) error {
	if e.Terminal() {
		r.terminated = true
	}
	for _, h := range r.hooks {
		h(e)
	}
	_, err := io.WriteString(r.w, e.Line()+"\n")
	return err
}
