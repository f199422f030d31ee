package alarms

import (
	"context"

	"git.home.luguber.info/inful/satellited/internal/actions"
	"git.home.luguber.info/inful/satellited/internal/statestore"
)

// Media player attribute keys and values read by ActionPlayer.
const (
	AttrState            = "state"
	AttrMediaContentID   = "media_content_id"
	AttrMediaContentType = "media_content_type"
	AttrMediaPosition    = "media_position"

	statePlaying = "playing"
)

// ActionPlayer drives media players through platform actions and reads
// their current media from the state store.
type ActionPlayer struct {
	invoker actions.Invoker
	states  statestore.Reader
}

func NewActionPlayer(invoker actions.Invoker, states statestore.Reader) *ActionPlayer {
	return &ActionPlayer{invoker: invoker, states: states}
}

func (p *ActionPlayer) Play(ctx context.Context, target, mediaURL, mediaType string) error {
	return p.invoker.Invoke(ctx, "media_player", "play_media", map[string]any{
		"entity_id":          target,
		"media_content_id":   mediaURL,
		"media_content_type": mediaType,
	})
}

func (p *ActionPlayer) Stop(ctx context.Context, target string) error {
	return p.invoker.Invoke(ctx, "media_player", "media_stop", map[string]any{
		"entity_id": target,
	})
}

// Current returns nil unless target is playing something with a content id.
func (p *ActionPlayer) Current(ctx context.Context, target string) (*PlayingMedia, error) {
	if p.states == nil {
		return nil, nil
	}
	attrs, err := p.states.Read(ctx, target)
	if err != nil {
		if statestore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if attrs.String(AttrState) != statePlaying {
		return nil, nil
	}
	id := attrs.String(AttrMediaContentID)
	if id == "" {
		return nil, nil
	}
	media := &PlayingMedia{ContentID: id, ContentType: attrs.String(AttrMediaContentType)}
	if media.ContentType == "" {
		media.ContentType = defaultMediaType
	}
	if pos, ok := attrs.Float(AttrMediaPosition); ok {
		media.Position = pos
	}
	return media, nil
}
