package util

import "testing"

func TestParseArgs(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want Options
		err  bool
	}{
		{
			name: "source file",
			args: []string{"prog.franz"},
			want: Options{Src: "prog.franz", Scoping: "lexical"},
		},
		{
			name: "flags and file",
			args: []string{"-d", "--no-tco", "prog.franz"},
			want: Options{Src: "prog.franz", Debug: true, NoTCO: true, Scoping: "lexical"},
		},
		{
			name: "inline source",
			args: []string{"-c", `(println 1)`},
			want: Options{Inline: `(println 1)`, Scoping: "lexical"},
		},
		{
			name: "assert types",
			args: []string{"--assert-types", "prog.franz"},
			want: Options{Src: "prog.franz", AssertTypes: true, Scoping: "lexical"},
		},
		{
			name: "no input",
			args: []string{},
			err:  true,
		},
		{
			name: "unknown flag",
			args: []string{"--frobnicate", "prog.franz"},
			err:  true,
		},
		{
			name: "dangling -c",
			args: []string{"-c"},
			err:  true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseArgs(c.args)
			if c.err {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got != c.want {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestParseCheckArgs(t *testing.T) {
	got, err := ParseCheckArgs([]string{"--strict", "--show-types", "prog.franz"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !got.Strict || !got.ShowTypes || got.Src != "prog.franz" {
		t.Fatalf("unexpected options: %+v", got)
	}
	if _, err := ParseCheckArgs(nil); err == nil {
		t.Fatal("expected an error with no source path")
	}
}
