// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package stationsdb regenerates the station list from a PostgreSQL view.
//
// Two view styles are supported:
//
//	station_list_source  mp, rinex_id, x, y, z, rec_type, rec_ver, ant_type, ant_h, ant_e, ant_n
//	etat_antennes4       mp, serial_code_world, ecef, receiver, version, antenne
//
// In auto mode the style follows the view name. Whitespace inside a token
// is written as '|' so every field stays a single station list column.
// The list is published atomically and only when its station lines change,
// so the Source Supervisor's change signature moves only on real edits.
package stationsdb

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tomtom215/rinexpipe/internal/config"
)

// Modes select the view style.
const (
	ModeAuto              = "auto"
	ModeStationListSource = "station_list_source"
	ModeEtatAntennes4     = "etat_antennes4"
)

// Token defaults for missing instrument fields.
const (
	UnknownToken = "UNKNOWN"
	NoAntenna    = "NONE|NONE"
)

// ErrUnsafeIdentifier is returned when a view or order-by value contains
// characters outside the identifier allowlist.
var ErrUnsafeIdentifier = errors.New("unsafe SQL identifier")

var (
	identPattern = regexp.MustCompile(`^[A-Za-z0-9_.\s,]+$`)
	floatPattern = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?`)
)

// Options describe the query and the generated file.
type Options struct {
	View    string
	Where   string
	OrderBy string
	Mode    string
	Output  string

	// Antenna offset defaults (height, east, north), used when the view has
	// no value and always in etat_antennes4 mode.
	AntennaH string
	AntennaE string
	AntennaN string
}

// OptionsFrom derives Options from the querydb configuration section.
func OptionsFrom(cfg *config.Config) Options {
	q := cfg.QueryDB
	return Options{
		View:     q.View,
		Where:    q.Where,
		OrderBy:  q.OrderBy,
		Mode:     q.Mode,
		Output:   cfg.QueryDBOutput(),
		AntennaH: q.AntennaHeightDefault,
		AntennaE: q.AntennaEastDefault,
		AntennaN: q.AntennaNorthDefault,
	}
}

// StationListSource reports whether the view has the final-column layout.
func (o Options) StationListSource() bool {
	switch strings.ToLower(o.Mode) {
	case ModeStationListSource:
		return true
	case ModeEtatAntennes4:
		return false
	default:
		return strings.HasSuffix(strings.ToLower(o.View), ModeStationListSource)
	}
}

// SQL builds the query. View and OrderBy pass the identifier allowlist;
// Where is operator-supplied and used verbatim.
func (o Options) SQL() (string, error) {
	if !identPattern.MatchString(o.View) {
		return "", fmt.Errorf("%w: view %q", ErrUnsafeIdentifier, o.View)
	}
	if !identPattern.MatchString(o.OrderBy) {
		return "", fmt.Errorf("%w: order_by %q", ErrUnsafeIdentifier, o.OrderBy)
	}

	cols := "mp, serial_code_world, ecef, receiver, version, antenne"
	if o.StationListSource() {
		cols = "mp, rinex_id, x, y, z, rec_type, rec_ver, ant_type, ant_h, ant_e, ant_n"
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(cols)
	b.WriteString(" FROM ")
	b.WriteString(o.View)
	if w := strings.TrimSpace(o.Where); w != "" {
		b.WriteString(" WHERE ")
		b.WriteString(w)
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(o.OrderBy)
	return b.String(), nil
}

// DSN builds a lib/pq key/value connection string.
func DSN(q config.QueryDBConfig) string {
	parts := []string{
		"host=" + quoteDSN(q.Host),
		"port=" + strconv.Itoa(q.Port),
		"dbname=" + quoteDSN(q.Database),
		"user=" + quoteDSN(q.User),
		"sslmode=" + quoteDSN(q.SSLMode),
		"connect_timeout=10",
	}
	if q.Password != "" {
		parts = append(parts, "password="+quoteDSN(q.Password))
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// NormalizeToken trims a value and replaces internal whitespace with '|'.
// Empty values and a literal "null" become def.
func NormalizeToken(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "null") {
		return def
	}
	return strings.Join(strings.Fields(v), "|")
}

// ParseECEF extracts X, Y and Z from text such as "x y z", "x,y,z" or
// "{x,y,z}".
func ParseECEF(v string) (x, y, z string, ok bool) {
	nums := floatPattern.FindAllString(v, -1)
	if len(nums) < 3 {
		return "", "", "", false
	}
	return nums[0], nums[1], nums[2], true
}
