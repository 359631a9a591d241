package postgres

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"
)

// UUIDToPgtype converts uuid.UUID to pgtype.UUID
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgtypeToUUID converts pgtype.UUID to uuid.UUID
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	return id.Bytes
}

// PageToPgtype converts mo.Option[int] to pgtype.Int4 (nullable)
func PageToPgtype(page mo.Option[int]) pgtype.Int4 {
	p, ok := page.Get()
	if !ok {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(p), Valid: true}
}

// PgtypeToPage converts pgtype.Int4 to mo.Option[int]
func PgtypeToPage(v pgtype.Int4) mo.Option[int] {
	if !v.Valid {
		return mo.None[int]()
	}
	return mo.Some(int(v.Int32))
}
