// Package core provides the business logic for building beneficiary
// movement files.
//
// This package contains all domain logic independent of any UI or transport
// layer. It is used by the HTTP server, the movgen CLI and tests without
// modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Field Registry: the fixed, ordered catalog of the 60 record fields.
//     Column order of the exported file and the spreadsheet layout both come
//     from [Fields].
//   - Records: [Record] is a typed mapping bounded to the registry ids.
//   - Codec: [DecodeRow] turns a spreadsheet row into a Record and [Encode]
//     renders a record sequence into the pipe-delimited movement file.
//   - Import Pipeline: [Pipeline] converts large row sets in chunks, serially
//     or on a worker pool, reporting progress without reordering output.
//   - Record Store: [RecordStore] is the editing surface (add, remove, update
//     and renumber rows).
//   - Service: workspaces, import sessions, staging and export for the web
//     layer.
//
// # Movement File
//
// The exported file has one header line, one line per record and a trailer:
//
//	1|H|MOVIMENTACAO|<account>|<YYYYMMDDHHMMSS>
//	2|N|<field 3>|...|<field 60>
//	...
//	<total>|T|<N>|<D>|<C>|<I>|<E>|<U>|<A>|<total>
//
// The trailer counts records per tipoRegistro bucket. The downstream
// enrollment system checks this layout character by character.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - VAL001-VAL006: Validation errors (account, records, fields, rows)
//   - FILE001-FILE004: File errors (size, format, empty)
//   - IMP001-IMP005: Import errors (busy, cancelled, failed, timeout)
//   - STG001-STG002: Staged import errors (expired, missing)
//   - WSP001: Workspace errors
package core
