package sanitize

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text untouched", in: "hello world", want: "hello world"},
		{name: "complete span removed", in: "<thinking>X</thinking>Y", want: "Y"},
		{name: "unclosed trailing span removed", in: "<thinking>X", want: ""},
		{name: "orphaned closing tag removed", in: "Y</thinking>", want: "Y"},
		{name: "span in the middle", in: "A<thinking>hidden</thinking>B", want: "AB"},
		{name: "multiple complete spans", in: "<thinking>a</thinking>x<thinking>b</thinking>y", want: "xy"},
		{name: "multi-line span", in: "<thinking>line1\nline2</thinking>ok", want: "ok"},
		{name: "unclosed after text", in: "visible<thinking>partial reaso", want: "visible"},
		{name: "empty input", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
