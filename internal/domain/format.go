package domain

import "fmt"

// rowFormat reproduces the published column layout; widths count characters.
const rowFormat = "%-10s %-8s  %7.4f   %7.4f%11.1f      -.-  %3.1f  -.-   %-50sİlksel"

// FormatRow renders an event as a feed data row. ParseLine(FormatRow(e))
// returns e for any event whose values fit the published column widths.
func FormatRow(e Event) string {
	return fmt.Sprintf(rowFormat, e.Date, e.Time, e.Lat, e.Lng, e.Depth, e.Mag, e.Location)
}

// FormatBlock renders events as a feed block with the header lines the
// observatory prints above the table.
func FormatBlock(events []Event) string {
	block := "RECENT EARTHQUAKES IN TURKEY\n\n" +
		" Tarih      Saat      Enlem(N)  Boylam(E) Derinlik(km)  MD   ML   Mw    Yer                                             Cozum Niteligi\n" +
		" ---------- --------  --------  -------   ----------    ------------    --------------                                  --------------\n"
	for _, e := range events {
		block += FormatRow(e) + "\n"
	}
	return block
}
