package main

import (
	"bytes"
	"context"
	"image/jpeg"
	"time"

	"github.com/elijahnyp/strip_controller/strip"
	. "github.com/elijahnyp/strip_controller/util"
)

// PreviewForwarder periodically publishes the strip preview as a JPEG, the
// way a camera snapshot would be, so MQTT dashboards can show it.
type PreviewForwarder struct {
	Topic     string `mapstructure:"topic"`
	Frequency int64  `mapstructure:"frequency"`
	Quality   int    `mapstructure:"quality"`
	Enabled   bool   `mapstructure:"enabled"`

	publish func(topic string, retained bool, payload interface{}) error
	last    strip.Snapshot
	sent    bool
}

func (pf *PreviewForwarder) MakePreviewForwarder() {
	err := Config.UnmarshalKey("preview_forwarder", pf)
	if err != nil {
		Logger.Error().Msgf("Error loading preview_forwarder config: %v", err)
	}
	if pf.Topic == "" {
		pf.Topic = Topic("preview")
	}
	if pf.Frequency <= 0 {
		pf.Frequency = 5
	}
	if pf.Quality <= 0 || pf.Quality > 100 {
		pf.Quality = jpeg.DefaultQuality
	}
	if pf.publish == nil {
		pf.publish = Publish
	}
}

// Start forwards until ctx ends. Nothing runs when the forwarder is disabled.
func (pf *PreviewForwarder) Start(ctx context.Context, api *webAPI) {
	if !pf.Enabled {
		return
	}
	ticker := time.NewTicker(time.Duration(pf.Frequency) * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			pf.forward(api)
		}
	}()
}

// forward publishes one preview, skipping it when the strip has not changed
// since the last one that went out.
func (pf *PreviewForwarder) forward(api *webAPI) {
	snap := api.monitor.Last()
	if pf.sent && snap.Equal(pf.last) {
		return
	}
	img := RenderPreview(snap, previewCaption(api.ctrl.Status(), snap.Len()))
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: pf.Quality}); err != nil {
		Logger.Warn().Msgf("Unable to encode preview: %v", err)
		return
	}
	if err := pf.publish(pf.Topic, false, buf.Bytes()); err != nil {
		Logger.Debug().Msgf("preview not published: %v", err)
		return
	}
	pf.last = snap
	pf.sent = true
}
