package render

import (
	"bytes"
	"fmt"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"powermon/models"
)

// Grid geometry. One row per weekday, one cell per hour.
const (
	cellWidth  = 46
	cellHeight = 56
	cellGap    = 4
	rowGap     = 18

	marginLeft   = 150
	marginTop    = 110
	marginRight  = 40
	marginBottom = 50

	imageWidth  = marginLeft + 24*cellWidth + 23*cellGap + marginRight
	imageHeight = marginTop + 7*cellHeight + 6*rowGap + marginBottom
)

// Cell and text colors, with muted variants for previous-week rows.
const (
	colorOn        = "#4ade80"
	colorOff       = "#f87171"
	colorNoData    = "#d1d5db"
	colorOnDim     = "#86efac"
	colorOffDim    = "#fca5a5"
	colorNoDataDim = "#e5e7eb"

	colorBackground = "#ffffff"
	colorText       = "#374151"
	colorLabel      = "#6b7280"
	colorLabelDim   = "#9ca3af"
)

// DiagramRenderer draws the weekly outage timeline as a PNG. Output is
// deterministic for identical input.
type DiagramRenderer struct {
	titleFace font.Face
	labelFace font.Face
	tickFace  font.Face
}

// NewDiagramRenderer prepares the font faces. The Go regular face covers
// Latin and Cyrillic, which the localized weekday labels need.
func NewDiagramRenderer() (*DiagramRenderer, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	return &DiagramRenderer{
		titleFace: truetype.NewFace(f, &truetype.Options{Size: 30}),
		labelFace: truetype.NewFace(f, &truetype.Options{Size: 22}),
		tickFace:  truetype.NewFace(f, &truetype.Options{Size: 16}),
	}, nil
}

// Render draws the 7x24 grid into a PNG image.
func (r *DiagramRenderer) Render(week models.WeeklySamples) ([]byte, error) {
	dc := gg.NewContext(imageWidth, imageHeight)

	dc.SetHexColor(colorBackground)
	dc.Clear()

	r.drawTitle(dc, week)
	r.drawHourTicks(dc)

	for i, day := range week.Days {
		r.drawDayRow(dc, i, day)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode diagram: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *DiagramRenderer) drawTitle(dc *gg.Context, week models.WeeklySamples) {
	monday := week.Days[0].Date
	sunday := monday.AddDate(0, 0, 6)
	title := fmt.Sprintf("%s  %s - %s", week.Title,
		monday.Format("02.01"), sunday.Format("02.01"))

	dc.SetFontFace(r.titleFace)
	dc.SetHexColor(colorText)
	dc.DrawString(title, marginLeft, 52)
}

// drawHourTicks labels every third hour above the grid.
func (r *DiagramRenderer) drawHourTicks(dc *gg.Context) {
	dc.SetFontFace(r.tickFace)
	dc.SetHexColor(colorLabelDim)

	for h := 0; h < 24; h += 3 {
		x := float64(marginLeft + h*(cellWidth+cellGap))
		dc.DrawString(fmt.Sprintf("%02d", h), x, marginTop-12)
	}
}

func (r *DiagramRenderer) drawDayRow(dc *gg.Context, row int, day models.DaySamples) {
	y := float64(marginTop + row*(cellHeight+rowGap))

	labelColor := colorLabel
	if day.Dimmed {
		labelColor = colorLabelDim
	}

	dc.SetFontFace(r.labelFace)
	dc.SetHexColor(labelColor)
	dc.DrawString(day.Label, 24, y+cellHeight/2-4)

	dc.SetFontFace(r.tickFace)
	dc.DrawString(day.Date.Format("02.01"), 24, y+cellHeight/2+18)

	for h, sample := range day.Hours {
		x := float64(marginLeft + h*(cellWidth+cellGap))
		dc.SetHexColor(cellColor(sample, day.Dimmed))
		dc.DrawRoundedRectangle(x, y, cellWidth, cellHeight, 6)
		dc.Fill()
	}
}

func cellColor(sample models.SampleStatus, dimmed bool) string {
	switch sample {
	case models.SampleOn:
		if dimmed {
			return colorOnDim
		}
		return colorOn
	case models.SampleOff:
		if dimmed {
			return colorOffDim
		}
		return colorOff
	default:
		if dimmed {
			return colorNoDataDim
		}
		return colorNoData
	}
}
