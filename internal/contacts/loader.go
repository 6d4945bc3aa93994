package contacts

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/foxzi/chainmail/internal/campaign"
)

// Loader groups contact rows into waves
type Loader struct {
	Catalog  *campaign.Catalog
	Sender   campaign.Sender
	Tracking campaign.Links
	// Name prefixes generated video titles, e.g. "LA CONSTELLATION #3 — Le piège fiscal".
	Name string
}

// Summary describes a conversion
type Summary struct {
	Waves        int
	Recipients   int
	Placeholders int
}

// Build assembles a campaign from parsed rows. Waves are ordered by ID and
// recipients by their recipient_index, whatever the input order.
func (l *Loader) Build(rows []Row) *campaign.Campaign {
	grouped := make(map[int][]Row)
	var ids []int
	for _, row := range rows {
		if _, ok := grouped[row.WaveID]; !ok {
			ids = append(ids, row.WaveID)
		}
		grouped[row.WaveID] = append(grouped[row.WaveID], row)
	}
	sort.Ints(ids)

	c := &campaign.Campaign{
		Sender:   l.Sender,
		Tracking: l.Tracking,
		Waves:    make([]campaign.Wave, 0, len(ids)),
	}

	for _, id := range ids {
		members := grouped[id]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].RecipientIndex < members[j].RecipientIndex
		})

		theme := l.Catalog.ThemeFor(id)
		wave := campaign.Wave{
			ID:         id,
			Theme:      theme,
			Subject:    l.Catalog.SubjectFor(id),
			VideoID:    videoIDFor(id, members),
			VideoTitle: fmt.Sprintf("%s #%d — %s", l.Name, id, theme),
			Recipients: make([]campaign.Recipient, 0, len(members)),
		}
		for _, m := range members {
			wave.Recipients = append(wave.Recipients, campaign.Recipient{
				Email:   m.Email,
				Name:    m.Name,
				Context: m.Context,
				Angle:   m.Angle,
			})
		}
		c.Waves = append(c.Waves, wave)
	}

	return c
}

// ConvertFile reads the contact sheet at csvPath and writes the campaign JSON
// to jsonPath.
func (l *Loader) ConvertFile(csvPath, jsonPath string) (*Summary, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", campaign.ErrMissingInput, csvPath)
		}
		return nil, fmt.Errorf("failed to open contacts: %w", err)
	}
	defer f.Close()

	rows, err := ParseCSV(f)
	if err != nil {
		return nil, err
	}

	c := l.Build(rows)
	if err := c.Save(jsonPath); err != nil {
		return nil, err
	}

	recipients, placeholders := c.Counts()
	return &Summary{
		Waves:        len(c.Waves),
		Recipients:   recipients,
		Placeholders: placeholders,
	}, nil
}

// videoIDFor picks the first video id given for the wave, or a placeholder
// that marks the wave as needing manual completion.
func videoIDFor(id int, rows []Row) string {
	for _, r := range rows {
		if r.VideoID != "" {
			return r.VideoID
		}
	}
	return fmt.Sprintf("VIDEO_ID_%d", id)
}
