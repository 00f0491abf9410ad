package bridge

import "testing"

func TestRenderTemplate(t *testing.T) {
	tmpl := "Hi {name}, thanks for taking our call! {summary}Feel free to reply here if you have any questions."

	tests := []struct {
		name    string
		tname   string
		summary string
		want    string
	}{
		{
			name:    "name and summary",
			tname:   "An",
			summary: "We discussed your renewal",
			want:    "Hi An, thanks for taking our call! We discussed your renewal. Feel free to reply here if you have any questions.",
		},
		{
			name:    "summary keeps existing punctuation",
			tname:   "An",
			summary: "We discussed your renewal!",
			want:    "Hi An, thanks for taking our call! We discussed your renewal! Feel free to reply here if you have any questions.",
		},
		{
			name:  "missing summary collapses cleanly",
			tname: "An",
			want:  "Hi An, thanks for taking our call! Feel free to reply here if you have any questions.",
		},
		{
			name:    "whitespace-only summary collapses",
			tname:   "An",
			summary: "   ",
			want:    "Hi An, thanks for taking our call! Feel free to reply here if you have any questions.",
		},
		{
			name:    "missing name falls back",
			summary: "We discussed your renewal.",
			want:    "Hi there, thanks for taking our call! We discussed your renewal. Feel free to reply here if you have any questions.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tmpl, tt.tname, tt.summary); got != tt.want {
				t.Errorf("RenderTemplate() =\n  %q\nwant\n  %q", got, tt.want)
			}
		})
	}

	t.Run("summary at template end has no trailing space", func(t *testing.T) {
		got := RenderTemplate("Hi {name}, quick recap: {summary}", "An", "we set a call for Friday")
		if got != "Hi An, quick recap: we set a call for Friday." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("template without placeholders passes through", func(t *testing.T) {
		got := RenderTemplate("Thanks for your time today.", "An", "ignored")
		if got != "Thanks for your time today." {
			t.Errorf("got %q", got)
		}
	})
}
