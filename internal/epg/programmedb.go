package epg

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const programmeSchema = `
CREATE TABLE IF NOT EXISTS programmes (
	channel_id     TEXT NOT NULL,
	start_ts       INTEGER NOT NULL,
	stop_ts        INTEGER NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	sub_title      TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	categories     TEXT NOT NULL DEFAULT '[]',
	episode_num    TEXT NOT NULL DEFAULT '',
	rating         TEXT NOT NULL DEFAULT '',
	programme_icon TEXT NOT NULL DEFAULT '',
	extra_json     TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_programmes_channel_window
	ON programmes(channel_id, start_ts, stop_ts);
`

// programmeBatchSize matches the spec's 5,000-row-per-transaction write.
const programmeBatchSize = 5000

// programmeStore is the dedicated per-EPG-source SQLite file holding
// programme listings. Keeping one file per source_id (rather than one
// shared programmes table) lets a single source's refresh be dropped and
// rebuilt wholesale, and keeps a misbehaving source's volume from bloating
// the main catalog database.
type programmeStore struct {
	db *sql.DB
}

func openProgrammeStore(path string) (*programmeStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("epg: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("epg: enable WAL: %w", err)
	}
	if _, err := db.Exec(programmeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("epg: migrate %s: %w", path, err)
	}
	return &programmeStore{db: db}, nil
}

func (s *programmeStore) Close() error {
	return s.db.Close()
}

// replaceAll wipes the existing programme rows and loads a fresh set from
// parse, batching inserts every programmeBatchSize rows so a multi-hundred
// thousand row guide never sits in a single transaction. Old rows are
// dropped first rather than diffed: the XMLTV source is authoritative on
// every refresh and programme rows carry no identity to upsert against.
func (s *programmeStore) replaceAll(path string, onParseError func(error)) (inserted int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM programmes"); err != nil {
		return 0, fmt.Errorf("epg: clear programmes: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO programmes
		(channel_id, start_ts, stop_ts, title, sub_title, description, categories, episode_num, rating, programme_icon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inTx := true
	flush := func() error {
		if err := tx.Commit(); err != nil {
			return err
		}
		inTx = false
		tx, err = s.db.Begin()
		if err != nil {
			return err
		}
		inTx = true
		newStmt, err := tx.Prepare(`INSERT INTO programmes
			(channel_id, start_ts, stop_ts, title, sub_title, description, categories, episode_num, rating, programme_icon)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		stmt.Close()
		stmt = newStmt
		return nil
	}

	count := 0
	sinkErr := parseProgrammes(path, onParseError, func(p Programme) error {
		categories := "[]"
		if len(p.Categories) > 0 {
			categories = `["` + strings.Join(p.Categories, `","`) + `"]`
		}
		if _, err := stmt.Exec(p.ChannelID, p.Start.Unix(), p.Stop.Unix(), p.Title, p.SubTitle, p.Description, categories, p.EpisodeNum, p.Rating, p.Icon); err != nil {
			return fmt.Errorf("epg: insert programme: %w", err)
		}
		count++
		if count%programmeBatchSize == 0 {
			return flush()
		}
		return nil
	})
	if sinkErr != nil {
		return 0, sinkErr
	}
	if inTx {
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// pruneExpired removes programmes whose stop time is older than
// now-retention, per §4.E's retention step.
func (s *programmeStore) pruneExpired(retention time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-retention).Unix()
	res, err := s.db.Exec("DELETE FROM programmes WHERE stop_ts < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("epg: prune programmes: %w", err)
	}
	return res.RowsAffected()
}
