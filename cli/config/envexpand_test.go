package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")
	t.Setenv("EMPTY_VAR", "")
	t.Setenv("USER_A", "alice")
	t.Setenv("USER_B", "bob")

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"set var", "value: ${TEST_VAR}", "value: hello"},
		{"unset var", "value: ${UNSET_VAR_12345}", "value: "},
		{"default when unset", "value: ${UNSET_VAR_12345:-fallback}", "value: fallback"},
		{"default ignored when set", "value: ${TEST_VAR:-fallback}", "value: hello"},
		{"default when empty", "value: ${EMPTY_VAR:-fallback}", "value: fallback"},
		{"multiple vars", "${USER_A}:${USER_B}", "alice:bob"},
		{"no vars", "no variables here", "no variables here"},
		// Only the ${VAR} form expands; bare $VAR passes through.
		{"bare dollar untouched", "path: $TEST_VAR/suffix", "path: $TEST_VAR/suffix"},
		{"empty default", "value: ${UNSET_VAR_99999:-}", "value: "},
		{"default with colons and slashes", "url: ${UNSET_VAR_99999:-http://localhost:8080/path}", "url: http://localhost:8080/path"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnvInsideYAML(t *testing.T) {
	t.Setenv("PROXY_USER", "admin")
	t.Setenv("PROXY_PASS", "secret")

	input := `proxies:
  pool1:
    endpoints:
      - username: ${PROXY_USER}
        password: ${PROXY_PASS}`

	want := `proxies:
  pool1:
    endpoints:
      - username: admin
        password: secret`

	if got := ExpandEnv(input); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
