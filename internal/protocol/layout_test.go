package protocol

import "testing"

func strptr(s string) *string { return &s }

func TestNormalizeClampsGrid(t *testing.T) {
	cases := []struct {
		rows, cols         int
		wantRows, wantCols int
	}{
		{0, 0, 1, 1},
		{-3, 5, 1, 5},
		{4, 100, 4, 12},
		{12, 12, 12, 12},
		{13, 1, 12, 1},
	}
	for _, c := range cases {
		got := Layout{Rows: c.rows, Cols: c.cols}.Normalize()
		if got.Rows != c.wantRows || got.Cols != c.wantCols {
			t.Errorf("Normalize(%dx%d) = %dx%d, want %dx%d",
				c.rows, c.cols, got.Rows, got.Cols, c.wantRows, c.wantCols)
		}
		if len(got.Cells) != got.Rows*got.Cols {
			t.Errorf("Normalize(%dx%d) has %d cells, want %d",
				c.rows, c.cols, len(got.Cells), got.Rows*got.Cols)
		}
	}
}

func TestNormalizePadsAndTruncatesCells(t *testing.T) {
	short := Layout{Rows: 2, Cols: 3, Cells: []*string{strptr("a")}}.Normalize()
	if len(short.Cells) != 6 {
		t.Fatalf("padded to %d cells, want 6", len(short.Cells))
	}
	if short.Cells[0] == nil || *short.Cells[0] != "a" {
		t.Fatal("existing assignment lost during padding")
	}
	for i := 1; i < 6; i++ {
		if short.Cells[i] != nil {
			t.Fatalf("pad cell %d is not empty", i)
		}
	}

	long := Layout{Rows: 1, Cols: 2, Cells: []*string{strptr("a"), strptr("b"), strptr("c")}}.Normalize()
	if len(long.Cells) != 2 {
		t.Fatalf("truncated to %d cells, want 2", len(long.Cells))
	}
	if *long.Cells[1] != "b" {
		t.Fatalf("cell order changed during truncation")
	}
}

func TestNormalizeDefaultsSizingHints(t *testing.T) {
	got := Layout{Rows: 2, Cols: 2}.Normalize()
	if got.TileHeightDp != 126 || got.IconSizeDp != 82 {
		t.Fatalf("defaults %d/%d, want 126/82", got.TileHeightDp, got.IconSizeDp)
	}
	kept := Layout{Rows: 2, Cols: 2, TileHeightDp: 90, IconSizeDp: 40}.Normalize()
	if kept.TileHeightDp != 90 || kept.IconSizeDp != 40 {
		t.Fatalf("explicit hints were overwritten: %d/%d", kept.TileHeightDp, kept.IconSizeDp)
	}
}
