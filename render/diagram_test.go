package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powermon/models"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func sampleWeek() models.WeeklySamples {
	monday := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	labels := [7]string{"MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"}

	week := models.WeeklySamples{
		SiteName: "Cabin",
		Language: models.LangEN,
		Title:    "Power outages",
	}
	for i := 0; i < 7; i++ {
		day := models.DaySamples{
			Date:   monday.AddDate(0, 0, i),
			Label:  labels[i],
			Dimmed: i > 2,
		}
		for h := 0; h < 24; h++ {
			switch {
			case i > 2:
				day.Hours[h] = models.SampleNoData
			case h >= 10 && h < 13:
				day.Hours[h] = models.SampleOff
			default:
				day.Hours[h] = models.SampleOn
			}
		}
		week.Days[i] = day
	}
	return week
}

func TestRenderProducesPNG(t *testing.T) {
	r, err := NewDiagramRenderer()
	require.NoError(t, err)

	image, err := r.Render(sampleWeek())
	require.NoError(t, err)
	require.NotEmpty(t, image)
	assert.True(t, bytes.HasPrefix(image, pngMagic), "output must be a PNG")
}

func TestRenderIsDeterministic(t *testing.T) {
	r, err := NewDiagramRenderer()
	require.NoError(t, err)

	week := sampleWeek()
	first, err := r.Render(week)
	require.NoError(t, err)
	second, err := r.Render(week)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRenderCyrillicLabels(t *testing.T) {
	r, err := NewDiagramRenderer()
	require.NoError(t, err)

	week := sampleWeek()
	week.Title = "Відключення світла"
	labels := [7]string{"ПН", "ВТ", "СР", "ЧТ", "ПТ", "СБ", "НД"}
	for i := range week.Days {
		week.Days[i].Label = labels[i]
	}

	image, err := r.Render(week)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(image, pngMagic))
}
