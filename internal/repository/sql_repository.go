package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"

	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/tile"
)

const (
	// MaxSetTiles caps how many tiles a single tile set may expand to.
	MaxSetTiles = 500_000

	pruneBatch = 128
)

// Options selects and tunes the SQL backend.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// SQLRepository stores tiles, tile sets and download queues in SQLite or PostgreSQL.
type SQLRepository struct {
	db      *sql.DB
	dialect dialect
	log     *logrus.Entry
	now     func() time.Time
}

// NewSQLRepository opens the database described by opts. Call Init before using it.
// It returns the repository interface to avoid leaking implementation details.
func NewSQLRepository(ctx context.Context, opts Options) (TileRepository, error) {
	return openSQLRepository(ctx, opts)
}

func openSQLRepository(ctx context.Context, opts Options) (*SQLRepository, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("store dsn is required: %w", errdefs.ErrInvalidArgument)
	}
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.sqlDriver, d.dsn(opts.DSN))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.name, err)
	}
	if d.name == DriverSQLite {
		// single writer; every query below runs on one connection
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", d.name, err)
	}

	return &SQLRepository{
		db:      db,
		dialect: d,
		log:     logger.WithComponent("repo").WithField("driver", d.name),
		now:     time.Now,
	}, nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) q(query string) string {
	return r.dialect.rebind(query)
}

// withTx runs fn in a transaction, rolling back on error.
func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// Init migrates the schema and creates the default tile set when missing.
func (r *SQLRepository) Init(ctx context.Context) error {
	if err := migrate(r.db, r.dialect); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		id, err := r.ensureDefaultSet(ctx, tx)
		if err != nil {
			return err
		}
		r.log.Debugf("store ready, default tile set id=%d", id)
		return nil
	})
}

func (r *SQLRepository) defaultSetID(ctx context.Context, tx *sql.Tx) (tile.SetID, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, r.q(`SELECT id FROM tile_sets WHERE default_set = 1 ORDER BY id LIMIT 1`)).Scan(&id)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("look up default tile set: %w", err)
	}
	return tile.SetID(id), true, nil
}

func (r *SQLRepository) ensureDefaultSet(ctx context.Context, tx *sql.Tx) (tile.SetID, error) {
	id, ok, err := r.defaultSetID(ctx, tx)
	if err != nil || ok {
		return id, err
	}
	var newID int64
	err = tx.QueryRowContext(ctx,
		r.q(`INSERT INTO tile_sets (name, default_set, date) VALUES (?, 1, ?) RETURNING id`),
		tile.DefaultSetName, r.now().Unix(),
	).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("create default tile set: %w", mapError(err))
	}
	return tile.SetID(newID), nil
}

// setExists returns whether the set exists and whether it is the default set.
func (r *SQLRepository) setExists(ctx context.Context, tx *sql.Tx, id tile.SetID) (exists, isDefault bool, err error) {
	var def int
	err = tx.QueryRowContext(ctx, r.q(`SELECT default_set FROM tile_sets WHERE id = ?`), int64(id)).Scan(&def)
	if isNoRows(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("look up tile set %d: %w", id, err)
	}
	return true, def != 0, nil
}

func (r *SQLRepository) SaveTile(ctx context.Context, ct *tile.CacheTile) error {
	if ct == nil || ct.Hash == "" {
		return fmt.Errorf("save tile: hash is required: %w", errdefs.ErrInvalidArgument)
	}
	if !ct.HasPayload() {
		return fmt.Errorf("save tile %s: empty payload: %w", ct.Hash, errdefs.ErrInvalidArgument)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		setID, err := r.owningSet(ctx, tx, ct)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, r.q(`
			INSERT INTO tiles (hash, format, tile, size, type, date) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (hash) DO UPDATE SET
				format = excluded.format, tile = excluded.tile, size = excluded.size,
				type = excluded.type, date = excluded.date`),
			ct.Hash, ct.Format, ct.Img, ct.Size(), int(ct.Type), r.now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("save tile %s: %w", ct.Hash, mapError(err))
		}

		var tileID int64
		if err := tx.QueryRowContext(ctx, r.q(`SELECT id FROM tiles WHERE hash = ?`), ct.Hash).Scan(&tileID); err != nil {
			return fmt.Errorf("save tile %s: read id: %w", ct.Hash, err)
		}
		if _, err := tx.ExecContext(ctx,
			r.q(`INSERT INTO set_tiles (set_id, tile_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
			int64(setID), tileID,
		); err != nil {
			return fmt.Errorf("link tile %s to set %d: %w", ct.Hash, setID, mapError(err))
		}
		if _, err := tx.ExecContext(ctx,
			r.q(`UPDATE tiles_download SET state = ? WHERE set_id = ? AND hash = ?`),
			int(tile.StateComplete), int64(setID), ct.Hash,
		); err != nil {
			return fmt.Errorf("complete download of tile %s: %w", ct.Hash, err)
		}
		return nil
	})
}

// owningSet picks the set a saved tile is linked to. Tiles for an unassigned or unknown set
// go to the default set so they stay prunable.
func (r *SQLRepository) owningSet(ctx context.Context, tx *sql.Tx, ct *tile.CacheTile) (tile.SetID, error) {
	if id, ok := ct.Set.Get(); ok {
		exists, _, err := r.setExists(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		if exists {
			return id, nil
		}
		r.log.Debugf("tile %s names unknown set %d, linking to default set", ct.Hash, id)
	}
	return r.ensureDefaultSet(ctx, tx)
}

func (r *SQLRepository) FetchTile(ctx context.Context, hash string) (*tile.CacheTile, error) {
	var (
		ct      tile.CacheTile
		mapType int
	)
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT hash, format, tile, type FROM tiles WHERE hash = ?`), hash,
	).Scan(&ct.Hash, &ct.Format, &ct.Img, &mapType)
	if isNoRows(err) {
		return nil, fmt.Errorf("tile %s: %w", hash, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch tile %s: %w", hash, err)
	}
	ct.Type = tile.MapType(mapType)
	return &ct, nil
}

const tileSetColumns = `id, name, map_type_name, type, top_left_lat, top_left_lon,
	bottom_right_lat, bottom_right_lon, min_zoom, max_zoom, num_tiles, default_set, date`

func scanTileSet(row interface{ Scan(...any) error }) (*tile.TileSet, error) {
	var (
		set             tile.TileSet
		id, date        int64
		mapType, defSet int
	)
	if err := row.Scan(&id, &set.Name, &set.MapTypeName, &mapType,
		&set.TopLeftLat, &set.TopLeftLon, &set.BottomRightLat, &set.BottomRightLon,
		&set.MinZoom, &set.MaxZoom, &set.TotalTileCount, &defSet, &date); err != nil {
		return nil, err
	}
	set.ID = tile.Assigned(tile.SetID(id))
	set.Type = tile.MapType(mapType)
	set.DefaultSet = defSet != 0
	set.CreatedAt = time.Unix(date, 0).UTC()
	return &set, nil
}

// FetchTileSets loads every set with its statistics before calling fn, so fn may block
// without holding a connection.
func (r *SQLRepository) FetchTileSets(ctx context.Context, fn func(*tile.TileSet) error) error {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT `+tileSetColumns+` FROM tile_sets ORDER BY default_set DESC, name`))
	if err != nil {
		return fmt.Errorf("list tile sets: %w", err)
	}
	var sets []*tile.TileSet
	for rows.Next() {
		set, err := scanTileSet(rows)
		if err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan tile set: %w", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("list tile sets: %w", err)
	}
	_ = rows.Close()

	for _, set := range sets {
		if err := r.loadSetStats(ctx, set); err != nil {
			return err
		}
		if err := fn(set); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) loadSetStats(ctx context.Context, set *tile.TileSet) error {
	id := int64(set.ID.ID)
	if err := r.db.QueryRowContext(ctx, r.q(`
		SELECT COUNT(*), CAST(COALESCE(SUM(t.size), 0) AS BIGINT)
		FROM set_tiles st JOIN tiles t ON t.id = st.tile_id
		WHERE st.set_id = ?`), id,
	).Scan(&set.SavedTileCount, &set.SavedTileSize); err != nil {
		return fmt.Errorf("count tiles of set %d: %w", id, err)
	}
	if err := r.db.QueryRowContext(ctx, r.q(`
		SELECT COUNT(*), CAST(COALESCE(SUM(t.size), 0) AS BIGINT)
		FROM set_tiles st JOIN tiles t ON t.id = st.tile_id
		WHERE st.set_id = ?
		  AND NOT EXISTS (SELECT 1 FROM set_tiles o WHERE o.tile_id = st.tile_id AND o.set_id <> st.set_id)`), id,
	).Scan(&set.UniqueTileCount, &set.UniqueTileSize); err != nil {
		return fmt.Errorf("count unique tiles of set %d: %w", id, err)
	}
	if set.DefaultSet {
		set.TotalTileCount = set.SavedTileCount
	}
	return nil
}

func (r *SQLRepository) CreateTileSet(ctx context.Context, set *tile.TileSet) (tile.SetID, error) {
	if set == nil {
		return 0, fmt.Errorf("create tile set: nil set: %w", errdefs.ErrInvalidArgument)
	}
	if err := set.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", err, errdefs.ErrInvalidArgument)
	}
	total := tile.TileCount(set)
	if total > MaxSetTiles {
		return 0, fmt.Errorf("tile set %q covers %d tiles, limit is %d: %w", set.Name, total, MaxSetTiles, errdefs.ErrInvalidArgument)
	}
	if set.MapTypeName == "" {
		set.MapTypeName = set.Type.String()
	}
	created := r.now().UTC().Truncate(time.Second)

	var setID tile.SetID
	var linked int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, r.q(`
			INSERT INTO tile_sets (name, map_type_name, type, top_left_lat, top_left_lon,
				bottom_right_lat, bottom_right_lon, min_zoom, max_zoom, num_tiles, default_set, date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?) RETURNING id`),
			set.Name, set.MapTypeName, int(set.Type), set.TopLeftLat, set.TopLeftLon,
			set.BottomRightLat, set.BottomRightLon, set.MinZoom, set.MaxZoom, total, created.Unix(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("create tile set %q: %w", set.Name, mapError(err))
		}
		setID = tile.SetID(id)

		lookup, err := tx.PrepareContext(ctx, r.q(`SELECT id FROM tiles WHERE hash = ?`))
		if err != nil {
			return fmt.Errorf("prepare tile lookup: %w", err)
		}
		defer lookup.Close()
		link, err := tx.PrepareContext(ctx, r.q(`INSERT INTO set_tiles (set_id, tile_id) VALUES (?, ?) ON CONFLICT DO NOTHING`))
		if err != nil {
			return fmt.Errorf("prepare tile link: %w", err)
		}
		defer link.Close()
		queue, err := tx.PrepareContext(ctx, r.q(`
			INSERT INTO tiles_download (set_id, hash, type, x, y, z, state) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`))
		if err != nil {
			return fmt.Errorf("prepare download queue: %w", err)
		}
		defer queue.Close()

		for z := set.MinZoom; z <= set.MaxZoom; z++ {
			rng := tile.TileRange(set, z)
			for x := rng.MinX; x <= rng.MaxX; x++ {
				for y := rng.MinY; y <= rng.MaxY; y++ {
					hash := tile.Hash(set.Type, x, y, z)
					var tileID int64
					err := lookup.QueryRowContext(ctx, hash).Scan(&tileID)
					switch {
					case err == nil:
						if _, err := link.ExecContext(ctx, id, tileID); err != nil {
							return fmt.Errorf("link tile %s: %w", hash, mapError(err))
						}
						linked++
					case isNoRows(err):
						if _, err := queue.ExecContext(ctx, id, hash, int(set.Type), x, y, z, int(tile.StatePending)); err != nil {
							return fmt.Errorf("queue tile %s: %w", hash, mapError(err))
						}
					default:
						return fmt.Errorf("look up tile %s: %w", hash, err)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	set.TotalTileCount = total
	set.SavedTileCount = linked
	set.CreatedAt = created
	r.log.Infof("created tile set %q id=%d tiles=%d already cached=%d", set.Name, setID, total, linked)
	return setID, nil
}

func (r *SQLRepository) GetTileDownloadList(ctx context.Context, setID tile.SetID, count int) ([]tile.Tile, error) {
	tiles := []tile.Tile{}
	if count <= 0 {
		return tiles, nil
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		exists, _, err := r.setExists(ctx, tx, setID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("download list: tile set %d: %w", setID, errdefs.ErrNotFound)
		}

		rows, err := tx.QueryContext(ctx, r.q(`
			SELECT hash, type, x, y, z FROM tiles_download
			WHERE set_id = ? AND state = ?
			ORDER BY z, x, y LIMIT ?`),
			int64(setID), int(tile.StatePending), count,
		)
		if err != nil {
			return fmt.Errorf("list pending tiles of set %d: %w", setID, err)
		}
		for rows.Next() {
			var (
				t       tile.Tile
				mapType int
			)
			if err := rows.Scan(&t.Hash, &mapType, &t.X, &t.Y, &t.Z); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan pending tile: %w", err)
			}
			t.Type = tile.MapType(mapType)
			t.Set = tile.Assigned(setID)
			tiles = append(tiles, t)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("list pending tiles of set %d: %w", setID, err)
		}
		_ = rows.Close()

		for _, t := range tiles {
			if _, err := tx.ExecContext(ctx,
				r.q(`UPDATE tiles_download SET state = ? WHERE set_id = ? AND hash = ?`),
				int(tile.StateDownloading), int64(setID), t.Hash,
			); err != nil {
				return fmt.Errorf("mark tile %s downloading: %w", t.Hash, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tiles, nil
}

// UpdateTileDownloadState sets the state of one queued tile, or of every tile of the set
// when hash is "*". Updating a tile that is not queued is not an error.
func (r *SQLRepository) UpdateTileDownloadState(ctx context.Context, setID tile.SetID, state tile.State, hash string) error {
	if !state.Valid() {
		return fmt.Errorf("update download state: %s: %w", state, errdefs.ErrInvalidArgument)
	}
	if hash == "" {
		return fmt.Errorf("update download state: hash is required: %w", errdefs.ErrInvalidArgument)
	}

	var (
		res sql.Result
		err error
	)
	if hash == "*" {
		res, err = r.db.ExecContext(ctx,
			r.q(`UPDATE tiles_download SET state = ? WHERE set_id = ?`), int(state), int64(setID))
	} else {
		res, err = r.db.ExecContext(ctx,
			r.q(`UPDATE tiles_download SET state = ? WHERE set_id = ? AND hash = ?`), int(state), int64(setID), hash)
	}
	if err != nil {
		return fmt.Errorf("update download state of %s in set %d: %w", hash, setID, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		r.log.Debugf("set %d: %d tile(s) now %s", setID, n, state)
	}
	return nil
}

func (r *SQLRepository) DeleteTileSet(ctx context.Context, setID tile.SetID) ([]string, error) {
	var evicted []string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		exists, isDefault, err := r.setExists(ctx, tx, setID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("delete tile set %d: %w", setID, errdefs.ErrNotFound)
		}
		if isDefault {
			return fmt.Errorf("delete tile set %d: default set cannot be deleted: %w", setID, errdefs.ErrInvalidArgument)
		}

		unique, err := r.uniqueTiles(ctx, tx, setID, 0)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM tiles_download WHERE set_id = ?`), int64(setID)); err != nil {
			return fmt.Errorf("delete download queue of set %d: %w", setID, err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM set_tiles WHERE set_id = ?`), int64(setID)); err != nil {
			return fmt.Errorf("unlink tiles of set %d: %w", setID, err)
		}
		for _, st := range unique {
			if err := r.deleteTile(ctx, tx, st); err != nil {
				return err
			}
			evicted = append(evicted, st.hash)
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM tile_sets WHERE id = ?`), int64(setID)); err != nil {
			return fmt.Errorf("delete tile set %d: %w", setID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Infof("deleted tile set %d with %d unique tile(s)", setID, len(evicted))
	return evicted, nil
}

type storedTile struct {
	id   int64
	hash string
	size int64
}

// uniqueTiles lists tiles linked to setID and no other set, oldest first.
// limit <= 0 means no limit.
func (r *SQLRepository) uniqueTiles(ctx context.Context, tx *sql.Tx, setID tile.SetID, limit int) ([]storedTile, error) {
	query := `
		SELECT t.id, t.hash, t.size FROM tiles t JOIN set_tiles st ON st.tile_id = t.id
		WHERE st.set_id = ?
		  AND NOT EXISTS (SELECT 1 FROM set_tiles o WHERE o.tile_id = t.id AND o.set_id <> st.set_id)
		ORDER BY t.date, t.id`
	args := []any{int64(setID)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := tx.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list unique tiles of set %d: %w", setID, err)
	}
	defer rows.Close()

	var tiles []storedTile
	for rows.Next() {
		var st storedTile
		if err := rows.Scan(&st.id, &st.hash, &st.size); err != nil {
			return nil, fmt.Errorf("scan unique tile: %w", err)
		}
		tiles = append(tiles, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unique tiles of set %d: %w", setID, err)
	}
	return tiles, nil
}

func (r *SQLRepository) deleteTile(ctx context.Context, tx *sql.Tx, st storedTile) error {
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM set_tiles WHERE tile_id = ?`), st.id); err != nil {
		return fmt.Errorf("unlink tile %s: %w", st.hash, err)
	}
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM tiles WHERE id = ?`), st.id); err != nil {
		return fmt.Errorf("delete tile %s: %w", st.hash, err)
	}
	return nil
}

func (r *SQLRepository) Prune(ctx context.Context, amount uint64) ([]string, error) {
	if amount == 0 {
		return nil, nil
	}
	var (
		evicted []string
		freed   uint64
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		defID, ok, err := r.defaultSetID(ctx, tx)
		if err != nil || !ok {
			return err
		}
		for freed < amount {
			batch, err := r.uniqueTiles(ctx, tx, defID, pruneBatch)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			for _, st := range batch {
				if err := r.deleteTile(ctx, tx, st); err != nil {
					return err
				}
				evicted = append(evicted, st.hash)
				freed += uint64(st.size)
				if freed >= amount {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prune cache: %w", err)
	}
	r.log.Infof("pruned %d tile(s), %d of %d bytes requested", len(evicted), freed, amount)
	return evicted, nil
}

func (r *SQLRepository) Reset(ctx context.Context) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"tiles_download", "set_tiles", "tiles", "tile_sets"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		r.log.Warn("tile cache reset")
		return nil
	})
}

func (r *SQLRepository) CacheSize(ctx context.Context) (int64, error) {
	var size int64
	if err := r.db.QueryRowContext(ctx, `SELECT CAST(COALESCE(SUM(size), 0) AS BIGINT) FROM tiles`).Scan(&size); err != nil {
		return 0, fmt.Errorf("compute cache size: %w", err)
	}
	return size, nil
}

var _ TileRepository = (*SQLRepository)(nil)
