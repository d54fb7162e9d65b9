package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"

	"github.com/elijahnyp/strip_controller/strip"
	. "github.com/elijahnyp/strip_controller/util"
)

const (
	previewCell     = 6   // pixels per strip pixel, each side
	previewPerRow   = 100 // strip pixels per preview row
	previewCaptionH = 20
	previewMinWidth = 240
)

var previewBackground = color.RGBA{24, 24, 24, 255}

// pixelColor shows the white channel by adding it to red, green and blue.
func pixelColor(px []int) color.RGBA {
	add := func(c, w int) uint8 {
		return uint8(min(c+w, strip.MaxChannel))
	}
	return color.RGBA{add(px[0], px[3]), add(px[1], px[3]), add(px[2], px[3]), 255}
}

// RenderPreview draws one square per strip pixel, previewPerRow to a row,
// under a caption.
func RenderPreview(snap strip.Snapshot, caption string) image.Image {
	n := snap.Len()
	perRow := min(max(n, 1), previewPerRow)
	rows := max((n+perRow-1)/perRow, 1)
	width := max(perRow*previewCell, previewMinWidth)
	height := previewCaptionH + rows*previewCell

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(previewBackground), image.Point{}, draw.Src)

	for i := 0; i < n; i++ {
		x := (i % perRow) * previewCell
		y := previewCaptionH + (i/perRow)*previewCell
		cell := image.Rect(x, y, x+previewCell-1, y+previewCell-1)
		draw.Draw(img, cell, image.NewUniform(pixelColor(snap.Pixel(i))), image.Point{}, draw.Src)
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{230, 230, 230, 255}),
		Face: inconsolata.Regular8x16,
		Dot:  fixed.Point26_6{X: fixed.I(4), Y: fixed.I(previewCaptionH - 5)},
	}
	d.DrawString(caption)

	return img
}

func previewCaption(st Status, n int) string {
	action := st.Action
	if action == "" {
		action = "-"
	}
	return fmt.Sprintf("%s %s (%d px)", st.State, action, n)
}

// HttpPreview serves the last transmitted strip state as PNG, or JPEG with
// ?format=jpeg.
func (a *webAPI) HttpPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		if _, err := io.WriteString(w, "Bad Request Method\n"); err != nil {
			Logger.Error().Msgf("Error writing response: %v", err)
		}
		return
	}
	snap := a.monitor.Last()
	img := RenderPreview(snap, previewCaption(a.ctrl.Status(), snap.Len()))

	imgWriter := bytes.NewBuffer(nil)
	contentType := "image/png"
	var err error
	if r.URL.Query().Get("format") == "jpeg" {
		contentType = "image/jpeg"
		err = jpeg.Encode(imgWriter, img, nil)
	} else {
		err = png.Encode(imgWriter, img)
	}
	if err != nil {
		http.Error(w, "Error encoding image", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(imgWriter.Bytes()); err != nil {
		Logger.Error().Msgf("Error writing image response: %v", err)
	}
}
