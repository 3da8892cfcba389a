package activelearning

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Answer is a labeler's response to a question.
type Answer int

const (
	AnswerYes Answer = iota
	AnswerNo
	AnswerUnsure
	AnswerFinished
)

func (a Answer) String() string {
	switch a {
	case AnswerYes:
		return "yes"
	case AnswerNo:
		return "no"
	case AnswerUnsure:
		return "unsure"
	case AnswerFinished:
		return "finished"
	}
	return fmt.Sprintf("Answer(%d)", int(a))
}

// Question is one pair presented for labeling.
type Question struct {
	Pair     models.CandidatePair
	Left     models.Record
	Right    models.Record
	Score    float64
	Asked    int
	Matches  int
	Distinct int
}

// Labeler answers questions, typically by asking a person.
type Labeler interface {
	Label(ctx context.Context, q Question) (Answer, error)
}

// ConsoleLabeler shows both records side by side and reads y/n/u/f answers.
type ConsoleLabeler struct {
	in     *bufio.Reader
	out    io.Writer
	fields []string
}

// NewConsoleLabeler creates a labeler over a terminal. When fields is empty all
// fields of both records are shown.
func NewConsoleLabeler(in io.Reader, out io.Writer, fields []string) *ConsoleLabeler {
	return &ConsoleLabeler{in: bufio.NewReader(in), out: out, fields: fields}
}

func (c *ConsoleLabeler) Label(ctx context.Context, q Question) (Answer, error) {
	fmt.Fprintf(c.out, "\n%d labeled (%d match, %d distinct), score %.3f\n", q.Matches+q.Distinct, q.Matches, q.Distinct, q.Score)
	fmt.Fprintf(c.out, "  %-20s %-30s %-30s\n", "field", "record "+q.Pair.Left, "record "+q.Pair.Right)
	for _, f := range c.displayFields(q) {
		l, _ := q.Left.String(f)
		r, _ := q.Right.String(f)
		fmt.Fprintf(c.out, "  %-20s %-30s %-30s\n", f, l, r)
	}

	for {
		if err := ctx.Err(); err != nil {
			return AnswerFinished, err
		}
		fmt.Fprint(c.out, "Do these records refer to the same entity? (y)es / (n)o / (u)nsure / (f)inished: ")
		line, err := c.in.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return AnswerFinished, errors.Wrap(err, "failed to read answer")
			}
			if strings.TrimSpace(line) == "" {
				return AnswerFinished, nil
			}
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return AnswerYes, nil
		case "n", "no":
			return AnswerNo, nil
		case "u", "unsure":
			return AnswerUnsure, nil
		case "f", "finished":
			return AnswerFinished, nil
		}
		fmt.Fprintln(c.out, "Please answer y, n, u or f.")
	}
}

func (c *ConsoleLabeler) displayFields(q Question) []string {
	if len(c.fields) > 0 {
		return c.fields
	}
	seen := make(map[string]struct{})
	for f := range q.Left.Fields {
		seen[f] = struct{}{}
	}
	for f := range q.Right.Fields {
		seen[f] = struct{}{}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
