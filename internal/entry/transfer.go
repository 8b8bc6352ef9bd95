package entry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/zoneworker/pkg/format"
)

// Export writes every entry to w as one JSON object per line.
func Export(ctx context.Context, store Store, w io.Writer) (int, error) {
	entries, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	r := format.NewJSONEachRowReader(entries)
	if _, err := io.Copy(w, r); err != nil {
		return 0, fmt.Errorf("failed to write entries: %w", err)
	}
	if len(entries) > 0 {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return 0, fmt.Errorf("failed to write entries: %w", err)
		}
	}

	return r.Len(), nil
}

// Import creates the entries read from r. Entries whose room already has an
// entry are skipped.
func Import(ctx context.Context, store Store, r io.Reader) (imported, skipped int, err error) {
	err = format.ReadEachRow(r, func(e Entry) error {
		if e.Data.RoomName == "" {
			return errors.New("entry without room_name")
		}

		err := store.Create(ctx, &e)
		if errors.Is(err, ErrExists) {
			log.Warn().Str("room", e.Data.RoomName).Str("id", e.ID).Msg("Skipping entry for existing room")
			skipped++
			return nil
		}
		if err != nil {
			return err
		}

		imported++
		return nil
	})
	return imported, skipped, err
}
