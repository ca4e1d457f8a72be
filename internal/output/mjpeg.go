package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// MJPEGConfig configures an MJPEGOutput
type MJPEGConfig struct {
	// Stream is the image stream the output is attached to
	Stream  string
	Quality int
	// FPS is the source rate, shown on the stats page only
	FPS int
}

// MJPEGOutput streams image packets as Motion JPEG over HTTP
type MJPEGOutput struct {
	config  MJPEGConfig
	running bool
	mu      sync.RWMutex

	// Current frame buffer
	frameMu       sync.RWMutex
	currentFrame  *image.RGBA
	lastTimestamp graph.Timestamp
	lastUpdate    time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	frameCount uint64
	dropped    uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config MJPEGConfig) *MJPEGOutput {
	if config.Quality < 1 || config.Quality > 100 {
		config.Quality = jpeg.DefaultQuality
	}
	return &MJPEGOutput{
		config:        config,
		clients:       make(map[chan []byte]struct{}),
		lastTimestamp: graph.Unset,
	}
}

// Start initializes the MJPEG output.
// The HTTP handler is registered separately via GetHTTPHandler()
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0
	m.dropped = 0

	logger.WithComponent("mjpeg").Info().
		Str("stream", m.config.Stream).
		Int("quality", m.config.Quality).
		Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	// Close all client connections
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Uint64("frames", m.frameCount).
		Uint64("dropped", m.dropped).
		Msg("MJPEG output stopped")
	return nil
}

// Consume encodes image packets; other packet kinds are rejected.
func (m *MJPEGOutput) Consume(stream string, p graph.Packet) error {
	img, err := p.Image()
	if err != nil {
		return fmt.Errorf("mjpeg output on %q: %w", stream, err)
	}
	if err := m.WriteFrame(img); err != nil {
		return err
	}
	m.frameMu.Lock()
	m.lastTimestamp = p.Timestamp()
	m.frameMu.Unlock()
	return nil
}

// WriteFrame sends a frame to all connected clients
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}
	if frame == nil {
		return fmt.Errorf("MJPEG output: nil frame")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.currentFrame = frame
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	var dropped uint64
	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Slow client, skip this frame
			dropped++
		}
	}
	m.clientsMu.RUnlock()

	m.mu.Lock()
	m.frameCount++
	m.dropped += dropped
	m.mu.Unlock()
	return nil
}

// Snapshot returns the last frame written and its timestamp.
func (m *MJPEGOutput) Snapshot() (*image.RGBA, graph.Timestamp) {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.currentFrame, m.lastTimestamp
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream.
// Mount this at /stream or similar endpoint
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2) // Buffer 2 frames

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		// Send headers now so clients see the stream before the first frame.
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		log := logger.WithComponent("mjpeg")
		log.Info().Str("remote", r.RemoteAddr).Int("clients", clientCount).Msg("Client connected")

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Str("remote", r.RemoteAddr).Int("clients", clientCount).Msg("Client disconnected")
		}()

		ctx := r.Context()
		for {
			var jpegData []byte
			var ok bool
			select {
			case <-ctx.Done():
				return
			case jpegData, ok = <-frameChan:
				if !ok {
					return
				}
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// GetViewerHandler returns an HTTP handler that shows the stream with
// live per-eye depth readouts fed by the depth websocket.
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>IrisStreamer</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .readout {
            position: fixed;
            top: 16px;
            left: 16px;
            display: flex;
            gap: 8px;
            font-family: system-ui, -apple-system, sans-serif;
            font-size: 14px;
        }
        .eye {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #4ec9b0;
            border-radius: 20px;
        }
        .nav-menu {
            position: fixed;
            bottom: 16px;
            left: 16px;
            display: flex;
            gap: 8px;
        }
        .nav-link {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            text-decoration: none;
            border-radius: 20px;
            font-family: system-ui, -apple-system, sans-serif;
            font-size: 13px;
        }
        .nav-link:hover { color: #fff; }
    </style>
</head>
<body>
    <img src="/stream" alt="IrisStreamer Live Stream">
    <div class="readout">
        <span class="eye" id="left_iris_depth_mm">Left: -</span>
        <span class="eye" id="right_iris_depth_mm">Right: -</span>
    </div>
    <div class="nav-menu">
        <a href="/api/status" class="nav-link">Status</a>
        <a href="/api/graph" class="nav-link">Graph</a>
        <a href="/stats" class="nav-link">Stream stats</a>
    </div>
    <script>
        const labels = { left_iris_depth_mm: 'Left', right_iris_depth_mm: 'Right' };
        function connect() {
            const proto = location.protocol === 'https:' ? 'wss' : 'ws';
            const ws = new WebSocket(proto + '://' + location.host + '/api/depth/stream');
            ws.onmessage = (ev) => {
                const msg = JSON.parse(ev.data);
                const el = document.getElementById(msg.stream);
                if (el && msg.value !== undefined) {
                    el.textContent = labels[msg.stream] + ': ' + (msg.value / 10).toFixed(1) + ' cm';
                }
            };
            ws.onclose = () => setTimeout(connect, 1000);
        }
        connect();
    </script>
</body>
</html>`

// GetStatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		running := m.running
		frameCount := m.frameCount
		dropped := m.dropped
		startTime := m.startTime
		m.mu.RUnlock()

		m.frameMu.RLock()
		lastUpdate := m.lastUpdate
		lastTimestamp := m.lastTimestamp
		var width, height int
		if m.currentFrame != nil {
			width, height = m.currentFrame.Bounds().Dx(), m.currentFrame.Bounds().Dy()
		}
		m.frameMu.RUnlock()

		clientCount := m.ClientCount()

		var fps float64
		if running && !startTime.IsZero() {
			elapsed := time.Since(startTime).Seconds()
			if elapsed > 0 {
				fps = float64(frameCount) / elapsed
			}
		}

		status, statusClass := "Stopped", "status-stopped"
		if running {
			status, statusClass = "Running", "status-running"
		}
		last := "Never"
		if !lastUpdate.IsZero() {
			last = time.Since(lastUpdate).Round(time.Millisecond).String() + " ago"
		}
		uptime := "N/A"
		if !startTime.IsZero() {
			uptime = time.Since(startTime).Round(time.Second).String()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>IrisStreamer - MJPEG Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .status-running { color: #4ec9b0; }
        .status-stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>IrisStreamer MJPEG Stream Stats</h1>
    <div class="stat"><span class="label">Status:</span> <span class="value %s">%s</span></div>
    <div class="stat"><span class="label">Stream:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Resolution:</span> <span class="value">%dx%d @ %d FPS (source)</span></div>
    <div class="stat"><span class="label">Actual FPS:</span> <span class="value">%.2f</span></div>
    <div class="stat"><span class="label">Total Frames:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Dropped (slow clients):</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Connected Clients:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Last Timestamp:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Last Update:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Uptime:</span> <span class="value">%s</span></div>
    <p><a href="/view" style="color: #569cd6;">View Stream</a></p>
</body>
</html>`,
			statusClass, status,
			m.config.Stream,
			width, height, m.config.FPS,
			fps,
			frameCount,
			dropped,
			clientCount,
			lastTimestamp,
			last,
			uptime,
		)
	}
}
