package robots

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/temoto/robotstxt"
)

func TestPrecedenceFirstMatchingEntry(t *testing.T) {
	t.Parallel()

	p, err := ParseString("User-agent: Bot\nDisallow: /x\n\nUser-agent: *\nDisallow: /\n", nil)
	require.NoError(t, err)

	require.True(t, p.CanFetch("Bot", "/y"))
	require.False(t, p.CanFetch("Bot", "/x"))
	require.False(t, p.CanFetch("Other", "/y"))
}

func TestDefaultEntryIsConsultedLast(t *testing.T) {
	t.Parallel()

	// The "*" block comes first in the document but still loses to Bot.
	p, err := ParseString("User-agent: *\nDisallow: /\n\nUser-agent: Bot\nDisallow: /private\n", nil)
	require.NoError(t, err)

	require.True(t, p.CanFetch("Bot/2.1 (+http://bot.example)", "/public"))
	require.False(t, p.CanFetch("Bot/2.1", "/private/a"))
	require.False(t, p.CanFetch("Crawler", "/public"))
}

func TestFirstMatchingRuleWins(t *testing.T) {
	t.Parallel()

	p, err := ParseString("User-agent: *\nAllow: /docs/public\nDisallow: /docs\n", nil)
	require.NoError(t, err)

	require.True(t, p.CanFetch("x", "/docs/public/a.html"))
	require.False(t, p.CanFetch("x", "/docs/internal"))
	require.True(t, p.CanFetch("x", "/other"))
}

func TestParserLeniency(t *testing.T) {
	t.Parallel()

	text := "\ufeff# comment only\n" +
		"Disallow: /orphan\n" +
		"Sitemap: http://x/s1.xml\n" +
		"\n" +
		"User-agent: Lonely\n" +
		"\n" +
		"User-agent: A\n" +
		"User-agent: B\n" +
		"Disallow: /a   # trailing comment\n" +
		"Crawl-delay: soon\n" +
		"User-agent: C\n" +
		"Disallow: /c\n" +
		"Crawl-delay: 3\n" +
		"nonsense line\n" +
		"Host: ignored.example\n" +
		"Sitemap: http://x/s2.xml\n"

	p, err := ParseString(text, nil)
	require.NoError(t, err)

	require.Len(t, p.Entries, 2)
	require.Equal(t, []string{"A", "B"}, p.Entries[0].UserAgents)
	require.Equal(t, []RuleLine{{Path: "/a"}}, p.Entries[0].Rules)
	require.Zero(t, p.Entries[0].CrawlDelay)
	require.Equal(t, []string{"C"}, p.Entries[1].UserAgents)
	require.Equal(t, 3, p.Entries[1].CrawlDelay)
	require.Nil(t, p.DefaultEntry)

	require.Equal(t, []Sitemap{{URL: "http://x/s1.xml", Line: 3}, {URL: "http://x/s2.xml", Line: 16}}, p.Sitemaps)

	require.True(t, p.CanFetch("Lonely", "/orphan"))
	require.False(t, p.CanFetch("b", "/a/b"))
	require.Equal(t, 3*time.Second, p.CrawlDelay("C"))
	require.Zero(t, p.CrawlDelay("A"))
}

func TestOverlongLineIsSkipped(t *testing.T) {
	t.Parallel()

	text := "User-agent: *\n" +
		"Disallow: /private\n" +
		"Disallow: /" + strings.Repeat("a", maxLineBytes+10) + "\n" +
		"Disallow: /tmp\n"
	p, err := ParseString(text, nil)
	require.NoError(t, err)
	require.False(t, p.AllowAll)
	require.False(t, p.CanFetch("bot", "/private/x"))
	require.False(t, p.CanFetch("bot", "/tmp/y"))
	require.True(t, p.CanFetch("bot", "/public"))
}

func TestEmptyDisallowAllowsEverything(t *testing.T) {
	t.Parallel()

	p, err := ParseString("User-agent: *\nDisallow:\n", nil)
	require.NoError(t, err)
	require.True(t, p.CanFetch("any", "/whatever"))
}

func TestPathsCompareDecoded(t *testing.T) {
	t.Parallel()

	p, err := ParseString("User-agent: *\nDisallow: /a%7eb\nDisallow: /caf%C3%A9\n", nil)
	require.NoError(t, err)

	require.False(t, p.CanFetch("x", "/a~b/c"))
	require.False(t, p.CanFetch("x", "http://h/café"))
	require.False(t, p.CanFetch("x", "/caf%c3%a9"))
	require.True(t, p.CanFetch("x", "/cafe"))
}

func TestSpecialPolicies(t *testing.T) {
	t.Parallel()

	require.False(t, DisallowAllPolicy().CanFetch("x", "/"))
	require.True(t, AllowAllPolicy().CanFetch("x", "/"))
	var nilPolicy *Policy
	require.True(t, nilPolicy.CanFetch("x", "/"))
	require.Zero(t, DisallowAllPolicy().CrawlDelay("x"))
}

func TestRoundTripSerialization(t *testing.T) {
	t.Parallel()

	text := "User-agent: Bot\nUser-agent: Spider\nDisallow: /x\nAllow: /x/ok\nCrawl-delay: 2\n\n" +
		"User-agent: *\nDisallow: /tmp/\nAllow: /\n\nSitemap: http://h/map.xml\n"
	first, err := ParseString(text, nil)
	require.NoError(t, err)

	second, err := ParseString(first.String(), nil)
	require.NoError(t, err)

	require.Equal(t, len(first.Entries), len(second.Entries))
	for i := range first.Entries {
		require.Equal(t, first.Entries[i].UserAgents, second.Entries[i].UserAgents)
		require.Equal(t, first.Entries[i].Rules, second.Entries[i].Rules)
		require.Equal(t, first.Entries[i].CrawlDelay, second.Entries[i].CrawlDelay)
	}
	require.Equal(t, first.DefaultEntry.Rules, second.DefaultEntry.Rules)
	require.Equal(t, first.Sitemaps[0].URL, second.Sitemaps[0].URL)

	for _, agent := range []string{"Bot", "Spider", "Other"} {
		for _, path := range []string{"/x", "/x/ok", "/tmp/a", "/"} {
			require.Equal(t, first.CanFetch(agent, path), second.CanFetch(agent, path), "%s %s", agent, path)
		}
	}

	for _, special := range []*Policy{AllowAllPolicy(), DisallowAllPolicy()} {
		reparsed, err := ParseString(special.String(), nil)
		require.NoError(t, err)
		require.Equal(t, special.CanFetch("x", "/a"), reparsed.CanFetch("x", "/a"))
	}
}

func TestAgreesWithRobotstxtOnSimpleFiles(t *testing.T) {
	t.Parallel()

	// Rules never overlap, so first-match and longest-match agree.
	files := []string{
		"User-agent: *\nDisallow: /private/\nDisallow: /tmp\n",
		"User-agent: linkbot\nDisallow: /cgi-bin/\n\nUser-agent: *\nDisallow: /\n",
		"User-agent: *\nDisallow:\n",
		"User-agent: otherbot\nDisallow: /\n",
	}
	paths := []string{"/", "/private/a.html", "/public", "/tmp", "/tmpfile", "/cgi-bin/run"}

	for _, text := range files {
		ours, err := ParseString(text, nil)
		require.NoError(t, err)
		oracle, err := robotstxt.FromString(text)
		require.NoError(t, err)

		for _, agent := range []string{"linkbot", "someone"} {
			for _, path := range paths {
				require.Equal(t, oracle.TestAgent(path, agent), ours.CanFetch(agent, path),
					"agent %s path %s in %q", agent, path, text)
			}
		}
	}
}
