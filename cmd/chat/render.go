package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/MegaGrindStone/bfchat/internal/models"
	"github.com/MegaGrindStone/bfchat/internal/widget"
)

// renderer prints the transcript as the message store changes. Assistant replies are printed piece by piece
// through delta, so their final append only ends the line.
type renderer struct {
	out io.Writer

	mu        sync.Mutex
	streaming bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) handle(c widget.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c.Kind {
	case widget.ChangeAppend:
		if c.Message.Role == models.RoleAssistant && r.streaming {
			r.streaming = false
			fmt.Fprintln(r.out)
			return
		}
		r.print(c.Message)
	case widget.ChangeReplace:
		for _, msg := range c.Messages {
			r.print(msg)
		}
	case widget.ChangeClear:
		r.streaming = false
	}
}

func (r *renderer) delta(d string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.streaming {
		r.streaming = true
		fmt.Fprint(r.out, prefix(models.RoleAssistant))
	}
	fmt.Fprint(r.out, d)
}

// stopped ends a reply cut short by an interrupt.
func (r *renderer) stopped() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streaming {
		r.streaming = false
		fmt.Fprintln(r.out)
	}
	fmt.Fprintln(r.out, "Reply stopped.")
}

func (r *renderer) print(msg models.Message) {
	if r.streaming {
		// A notice ends an interrupted reply.
		r.streaming = false
		fmt.Fprintln(r.out)
	}
	fmt.Fprintf(r.out, "%s%s\n", prefix(msg.Role), msg.Content)
}

func prefix(role models.Role) string {
	switch role {
	case models.RoleUser:
		return "you> "
	case models.RoleAssistant:
		return "assistant> "
	}
	return ""
}
