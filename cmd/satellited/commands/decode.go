package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/timephrase"
)

// DecodeCmd implements the 'decode' command.
type DecodeCmd struct {
	Text []string `arg:"" help:"Time expression, e.g. \"in 5 minutes\" or \"half past seven\""`
	At   string   `help:"Reference time (RFC3339) instead of now"`
	JSON bool     `name:"json" help:"Print the result as JSON"`
}

type decodeResult struct {
	Sentence string           `json:"sentence"`
	Info     *timephrase.Info `json:"info"`
	FireAt   time.Time        `json:"fire_at"`
	In       string           `json:"in"`
}

func (d *DecodeCmd) Run(g *Global, _ *CLI) error {
	now := time.Now()
	if d.At != "" {
		at, err := time.Parse(time.RFC3339, d.At)
		if err != nil {
			return ferrors.InvalidArgumentError("--at must be an RFC3339 time").WithCause(err).Build()
		}
		now = at
	}

	text := strings.Join(d.Text, " ")
	sentence, info := timephrase.Decode(text)
	if info == nil {
		return ferrors.InvalidTimeError("no time expression recognised").WithContext("text", text).Build()
	}
	fireAt, err := timephrase.Resolve(info, now)
	if err != nil {
		return err
	}
	res := decodeResult{Sentence: sentence, Info: info, FireAt: fireAt, In: timephrase.DescribeUntil(fireAt, now)}

	w := out(g)
	if d.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprintf(w, "%s\nfires %s (in %s)\n", info, timephrase.FormatClock(fireAt, now), res.In)
	return err
}
