package platform

import "testing"

func TestParsePlatformCanonicalForms(t *testing.T) {
	cases := map[string]Platform{
		"x86_64-linux-gnu":   {CPU: "x64", OS: "linux", Libc: "gnu"},
		"aarch64-linux-musl": {CPU: "arm64", OS: "linux", Libc: "musl"},
		"x86_64-mingw-ucrt":  {CPU: "x64", OS: "mingw", Libc: "ucrt"},
		"java":               Java,
		"ruby":               Ruby,
		"":                   Ruby,
	}
	for input, want := range cases {
		got := ParsePlatform(input)
		if got != want {
			t.Errorf("ParsePlatform(%q) = %+v, want %+v", input, got, want)
		}
	}
}

func TestParsePlatformDarwinVersionFamily(t *testing.T) {
	got := ParsePlatform("arm64-darwin-23")
	if got.OS != "darwin" || got.Version != "sonoma" || got.CPU != "arm64" {
		t.Errorf("ParsePlatform(arm64-darwin-23) = %+v", got)
	}
}

func TestParsePlatformRetainsUnrecognizedVerbatim(t *testing.T) {
	got := ParsePlatform("z80-cpm")
	if got.String() != "z80-cpm" {
		t.Errorf("expected unrecognized platform retained verbatim, got %q", got.String())
	}
}

func TestMatchesRubySentinel(t *testing.T) {
	host := Platform{CPU: "x64", OS: "linux", Libc: "gnu"}
	if !Ruby.Matches(host) {
		t.Error("ruby platform should match any host")
	}
}

func TestMatchesJavaSentinel(t *testing.T) {
	host := Platform{CPU: "x64", OS: "linux", Libc: "gnu"}
	if Java.Matches(host) {
		t.Error("java platform should not match a non-java host")
	}
	jHost := Platform{OS: "java"}
	if !Java.Matches(jHost) {
		t.Error("java platform should match a java host")
	}
}

func TestMatchesLinuxLibcAbsent(t *testing.T) {
	gem := Platform{CPU: "x64", OS: "linux"}
	host := Platform{CPU: "x64", OS: "linux", Libc: "musl"}
	if !gem.Matches(host) {
		t.Error("a linux gem platform without a libc should match any host libc")
	}
}

func TestMatchesUniversalMingw(t *testing.T) {
	gem := Platform{CPU: "x64", OS: "mingw"}
	host := Platform{CPU: "x64", OS: "mingw", Libc: "ucrt"}
	if !gem.Matches(host) {
		t.Error("universal mingw gem should match any mingw host")
	}
}

func TestMatchesDarwinVersionAbsent(t *testing.T) {
	gem := Platform{CPU: "arm64", OS: "darwin"}
	host := Platform{CPU: "arm64", OS: "darwin", Version: "sonoma"}
	if !gem.Matches(host) {
		t.Error("a darwin gem platform without a version should match any host version")
	}
}

func TestStringRoundTrip(t *testing.T) {
	inputs := []string{"x86_64-linux-gnu", "aarch64-linux-musl", "x86_64-mingw-ucrt", "ruby", "java"}
	for _, in := range inputs {
		p := ParsePlatform(in)
		if p.String() != ParsePlatform(p.String()).String() {
			t.Errorf("round trip mismatch for %q: got %q", in, p.String())
		}
	}
}
