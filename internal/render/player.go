package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/template"
)

// Self-contained player page. The rrweb-player runtime is inlined so the
// headless browser never blocks on external script loads mid-recording.
// It exposes three hooks the recorder drives: window.pageReady,
// window.loadError and window.startPlayback(events).
const playerPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Session Replay</title>
    <style>
        {{.Style}}

        * { margin: 0; padding: 0; box-sizing: border-box; }
        html, body {
            width: 100%;
            height: 100%;
            background: #f5f5f5;
            overflow: hidden;
        }
        #player-container {
            width: 100%;
            height: 100%;
            display: flex;
            justify-content: center;
            align-items: center;
        }
        .rr-player {
            background: white;
            box-shadow: 0 4px 6px rgba(0, 0, 0, 0.1);
        }
        .rr-controller {
            display: none !important;
        }
    </style>
</head>
<body>
    <div id="player-container"></div>

    <script>
        {{.Script}}
    </script>

    <script>
        window.pageReady = false;
        window.loadError = null;

        var checkCount = 0;
        function checkReady() {
            checkCount++;
            if (typeof rrwebPlayer !== 'undefined' || typeof window.rrwebPlayer !== 'undefined') {
                window.pageReady = true;
                console.log('rrweb-player loaded after ' + checkCount + ' checks');
                return;
            }
            if (checkCount < 100) {
                setTimeout(checkReady, 100);
            } else {
                window.loadError = 'Timeout waiting for rrwebPlayer to load';
                console.error(window.loadError);
            }
        }
        setTimeout(checkReady, 500);

        window.startPlayback = function(events) {
            console.log('startPlayback called with ' + events.length + ' events');
            if (!events || events.length === 0) {
                console.error('No events provided');
                return false;
            }
            try {
                var PlayerClass = rrwebPlayer;
                if (PlayerClass.default) {
                    PlayerClass = PlayerClass.default;
                }
                var player = new PlayerClass({
                    target: document.getElementById('player-container'),
                    props: {
                        events: events,
                        width: {{.Width}},
                        height: {{.Height}},
                        autoPlay: true,
                        showController: false,
                        skipInactive: true,
                        speed: 1
                    }
                });
                window.playerInstance = player;
                console.log('Player created successfully');
                return true;
            } catch (e) {
                console.error('Failed to create player:', e.message);
                window.loadError = e.message;
                return false;
            }
        };
    </script>
</body>
</html>`

var playerPageTmpl = template.Must(template.New("player").Parse(playerPage))

type playerAssets struct {
	script string
	style  string
}

// playerPage assembles the full page HTML, fetching the player runtime
// from the CDN the first time and caching it for the process lifetime.
func (r *playwrightRenderer) playerPage(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.assets == nil {
		assets, err := r.fetchPlayerAssets(ctx)
		if err != nil {
			return "", err
		}
		r.assets = assets
	}

	var buf bytes.Buffer
	err := playerPageTmpl.Execute(&buf, struct {
		Style  string
		Script string
		Width  int
		Height int
	}{
		Style:  r.assets.style,
		Script: r.assets.script,
		Width:  r.cfg.Width,
		Height: r.cfg.Height,
	})
	if err != nil {
		return "", fmt.Errorf("rendering player template: %w", err)
	}
	return buf.String(), nil
}

func (r *playwrightRenderer) fetchPlayerAssets(ctx context.Context) (*playerAssets, error) {
	slog.InfoContext(ctx, "fetching rrweb-player assets", "cdn", r.cfg.PlayerCDN)

	script, err := r.fetchAsset(ctx, r.cfg.PlayerCDN+"/index.js")
	if err != nil {
		return nil, fmt.Errorf("fetching player script: %w", err)
	}
	style, err := r.fetchAsset(ctx, r.cfg.PlayerCDN+"/style.css")
	if err != nil {
		return nil, fmt.Errorf("fetching player stylesheet: %w", err)
	}

	return &playerAssets{script: script, style: style}, nil
}

func (r *playwrightRenderer) fetchAsset(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
