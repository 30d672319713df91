// Package domain models the Kandilli Observatory (KOERI) earthquake feed.
//
// # Data Source
//
// The Boğaziçi University Kandilli Observatory publishes the most recent
// earthquakes in Turkey and its surroundings as an HTML page at
// http://www.koeri.boun.edu.tr/scripts/lst2.asp. The page wraps a
// human-readable fixed-width table in a single <pre> element; the table is
// regenerated every few minutes and always lists the newest events first.
//
// # Feed Conventions
//
// Row layout (character offsets, end exclusive):
//
//	[0:10]    date        "2024.12.30"   (YYYY.MM.DD)
//	[11:19]   time        "14:15:32"     (HH:MM:SS, local time as published)
//	[21:28]   latitude    "38.7410"      (degrees N)
//	[30:38]   longitude   "37.5255"      (degrees E)
//	[43:49]   depth       "5.0"          (km)
//	[60:63]   magnitude   "1.6"          (ML column)
//	[71:121]  location    "HEKIMHAN (MALATYA)"
//
// The longitude column is read through offset 38 so four-decimal values are
// not cut short; every numeric slice is trimmed before parsing.
//
// Offsets and the length threshold count characters, not bytes: the location
// and the trailing solution-type column carry Turkish letters ("İlksel").
//
// Row detection:
//
//	Only lines longer than 100 characters whose first character is a digit
//	are data rows. Headers, the dashed separator and footers fail this test.
//
// Unknown values:
//
//	"-.-" is the Kandilli placeholder for an unmeasured magnitude. A row whose
//	ML magnitude is "-.-" is a malformed record and is dropped.
//
// # Identity
//
// Rows carry no identifier. The triple (date, time, location) is the dedupe
// key: the feed republishes the same rows on every refresh, and revised
// solutions keep their original date, time and location. See [EventKey].
package domain
