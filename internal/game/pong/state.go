package pong

import "math"

// maxBounceAngle limits how steeply the ball leaves a paddle edge.
const maxBounceAngle = math.Pi / 4

// Side identifies one of the two players.
type Side int

const (
	// NoSide is the zero value; no player.
	NoSide Side = iota
	// Player1 defends the left edge.
	Player1
	// Player2 defends the right edge.
	Player2
)

// String returns the side name.
func (s Side) String() string {
	switch s {
	case Player1:
		return "player1"
	case Player2:
		return "player2"
	default:
		return "none"
	}
}

// Opponent returns the other side.
func (s Side) Opponent() Side {
	switch s {
	case Player1:
		return Player2
	case Player2:
		return Player1
	default:
		return NoSide
	}
}

// Point is a position on the field.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector is a per-tick displacement.
type Vector struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Ball is the ball's center, velocity and radius.
type Ball struct {
	Position Point   `json:"position"`
	Vector   Vector  `json:"vector"`
	Radius   float64 `json:"radius"`
}

// Paddle is one player's paddle. Position is the paddle's top-left corner.
type Paddle struct {
	UserID   int64  `json:"userId"`
	Position Point  `json:"position"`
	Vector   Vector `json:"vector"`
	Score    int    `json:"score"`
}

// State is the full simulation state of one match.
// It holds no references, so assigning a State copies it.
type State struct {
	Ball    Ball   `json:"ball"`
	Player1 Paddle `json:"player1"`
	Player2 Paddle `json:"player2"`

	serving     bool
	serveIn     int
	serveDelay  int
	serveToward Side
	serves      int
}

// Event reports what a single Step changed.
type Event struct {
	// Scorer is the side that scored during the step, or NoSide.
	Scorer Side
	// Finished is true when Scorer reached the win score.
	Finished bool
}

// NewState returns the starting geometry for a match on f: ball centered at
// rest, both paddles vertically centered one paddle width from their edge.
// The first serve goes toward player 2 after serveDelay ticks.
//
// Precondition: f must pass Validate; serveDelay >= 0.
func NewState(f Field, player1, player2 int64, serveDelay int) State {
	paddleY := (f.Height - f.PaddleHeight) / 2
	return State{
		Ball: Ball{
			Position: Point{X: f.Width / 2, Y: f.Height / 2},
			Radius:   f.BallRadius,
		},
		Player1: Paddle{
			UserID:   player1,
			Position: Point{X: f.PaddleWidth, Y: paddleY},
		},
		Player2: Paddle{
			UserID:   player2,
			Position: Point{X: f.Width - 2*f.PaddleWidth, Y: paddleY},
		},
		serving:     true,
		serveIn:     serveDelay,
		serveDelay:  serveDelay,
		serveToward: Player2,
	}
}

// Paddle returns a pointer to side's paddle, or nil for NoSide.
func (s *State) Paddle(side Side) *Paddle {
	switch side {
	case Player1:
		return &s.Player1
	case Player2:
		return &s.Player2
	default:
		return nil
	}
}

// SideOf returns the side controlled by userID.
func (s *State) SideOf(userID int64) Side {
	switch userID {
	case s.Player1.UserID:
		return Player1
	case s.Player2.UserID:
		return Player2
	default:
		return NoSide
	}
}

// SetPaddleSpeed sets side's vertical paddle velocity, clamped to the field's
// max paddle speed. Non-finite values are rejected.
//
// Postcondition: Returns false and leaves the state unchanged if side or dy is invalid.
func (s *State) SetPaddleSpeed(f Field, side Side, dy float64) bool {
	p := s.Paddle(side)
	if p == nil || math.IsNaN(dy) || math.IsInf(dy, 0) {
		return false
	}
	p.Vector.DY = clamp(dy, -f.MaxPaddleSpeed, f.MaxPaddleSpeed)
	return true
}

// Step advances the simulation by one tick.
//
// Precondition: f is the field the state was created on; winScore > 0.
// Postcondition: At most one side scores per step; Finished implies Scorer's score >= winScore.
func (s *State) Step(f Field, winScore int) Event {
	movePaddle(&s.Player1, f)
	movePaddle(&s.Player2, f)

	if s.serving {
		if s.serveIn > 0 {
			s.serveIn--
			return Event{}
		}
		s.serve(f)
	}

	b := &s.Ball
	b.Position.X += b.Vector.DX
	b.Position.Y += b.Vector.DY

	if b.Position.Y-b.Radius < 0 {
		b.Position.Y = b.Radius
		b.Vector.DY = math.Abs(b.Vector.DY)
	} else if b.Position.Y+b.Radius > f.Height {
		b.Position.Y = f.Height - b.Radius
		b.Vector.DY = -math.Abs(b.Vector.DY)
	}

	switch {
	case b.Vector.DX < 0 && hits(b, &s.Player1, f):
		s.reflect(&s.Player1, f, 1)
		b.Position.X = s.Player1.Position.X + f.PaddleWidth + b.Radius
	case b.Vector.DX > 0 && hits(b, &s.Player2, f):
		s.reflect(&s.Player2, f, -1)
		b.Position.X = s.Player2.Position.X - b.Radius
	}

	var scorer Side
	switch {
	case b.Position.X-b.Radius <= 0:
		scorer = Player2
	case b.Position.X+b.Radius >= f.Width:
		scorer = Player1
	default:
		return Event{}
	}

	p := s.Paddle(scorer)
	p.Score++
	s.resetBall(f, scorer.Opponent())
	return Event{Scorer: scorer, Finished: p.Score >= winScore}
}

// Winner returns the side with the higher score, or NoSide on a tie.
func (s *State) Winner() Side {
	switch {
	case s.Player1.Score > s.Player2.Score:
		return Player1
	case s.Player2.Score > s.Player1.Score:
		return Player2
	default:
		return NoSide
	}
}

func (s *State) serve(f Field) {
	dx := f.ServeSpeed * 0.8
	dy := f.ServeSpeed * 0.6
	if s.serveToward == Player1 {
		dx = -dx
	}
	if s.serves%2 == 1 {
		dy = -dy
	}
	s.Ball.Vector = Vector{DX: dx, DY: dy}
	s.serving = false
	s.serves++
}

func (s *State) resetBall(f Field, toward Side) {
	s.Ball.Position = Point{X: f.Width / 2, Y: f.Height / 2}
	s.Ball.Vector = Vector{}
	s.serving = true
	s.serveIn = s.serveDelay
	s.serveToward = toward
}

// reflect sends the ball back off p. dir is +1 for the left paddle, -1 for the right.
func (s *State) reflect(p *Paddle, f Field, dir float64) {
	b := &s.Ball
	half := f.PaddleHeight / 2
	offset := clamp((b.Position.Y-(p.Position.Y+half))/half, -1, 1)
	angle := offset * maxBounceAngle
	speed := math.Hypot(b.Vector.DX, b.Vector.DY) * (1 + f.SpeedUp)
	speed = math.Min(speed, f.MaxBallSpeed)
	b.Vector = Vector{
		DX: dir * speed * math.Cos(angle),
		DY: speed * math.Sin(angle),
	}
}

func hits(b *Ball, p *Paddle, f Field) bool {
	return b.Position.X-b.Radius <= p.Position.X+f.PaddleWidth &&
		b.Position.X+b.Radius >= p.Position.X &&
		b.Position.Y+b.Radius >= p.Position.Y &&
		b.Position.Y-b.Radius <= p.Position.Y+f.PaddleHeight
}

func movePaddle(p *Paddle, f Field) {
	p.Position.Y = clamp(p.Position.Y+p.Vector.DY, 0, f.Height-f.PaddleHeight)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
