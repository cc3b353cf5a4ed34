package sessions

const (
	queryCreateSession = `
		INSERT INTO reflection_sessions (host_user_id, title, theme, mode, visibility, capacity, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, host_user_id, title, theme, mode, visibility, status, capacity, document,
			scheduled_for, started_at, ended_at, segment_count, created_at, last_activity`

	queryGetSession = `
		SELECT id, host_user_id, title, theme, mode, visibility, status, capacity, document,
			scheduled_for, started_at, ended_at, segment_count, created_at, last_activity
		FROM reflection_sessions
		WHERE id = $1`

	queryGetUserSessions = `
		SELECT DISTINCT s.id, s.host_user_id, s.title, s.theme, s.mode, s.visibility, s.status, s.capacity, s.document,
			s.scheduled_for, s.started_at, s.ended_at, s.segment_count, s.created_at, s.last_activity
		FROM reflection_sessions s
		LEFT JOIN session_participants p ON p.session_id = s.id
		WHERE s.host_user_id = $1 OR p.user_id = $1
		ORDER BY s.created_at DESC`

	queryCountPublicSessions = `
		SELECT COUNT(*)
		FROM reflection_sessions
		WHERE visibility = 'public' AND status IN ('scheduled', 'active')`

	queryListPublicSessions = `
		SELECT id, host_user_id, title, theme, mode, visibility, status, capacity, document,
			scheduled_for, started_at, ended_at, segment_count, created_at, last_activity
		FROM reflection_sessions
		WHERE visibility = 'public' AND status IN ('scheduled', 'active')
		ORDER BY scheduled_for ASC
		LIMIT $1 OFFSET $2`

	queryStartSession = `
		UPDATE reflection_sessions
		SET status = 'active', started_at = NOW(), last_activity = NOW()
		WHERE id = $1 AND status = 'scheduled'`

	queryCompleteSession = `
		UPDATE reflection_sessions
		SET status = 'completed', ended_at = NOW(),
			segment_count = (SELECT COUNT(*) FROM session_segments WHERE session_id = $1)
		WHERE id = $1 AND status = 'active'`

	queryCancelSession = `
		UPDATE reflection_sessions
		SET status = 'cancelled', ended_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`

	queryUpdateDocument = `
		UPDATE reflection_sessions
		SET document = $1, last_activity = NOW()
		WHERE id = $2`

	queryUpdateLastActivity = `
		UPDATE reflection_sessions
		SET last_activity = NOW()
		WHERE id = $1`

	// rejoin clears left_at but keeps the original join order and cursor color
	queryAddParticipant = `
		INSERT INTO session_participants (session_id, user_id, display_name, cursor_color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET left_at = NULL, display_name = EXCLUDED.display_name
		RETURNING id, session_id, user_id, display_name, cursor_color, joined_at, left_at`

	queryGetParticipant = `
		SELECT id, session_id, user_id, display_name, cursor_color, joined_at, left_at
		FROM session_participants
		WHERE session_id = $1 AND user_id = $2`

	queryMarkParticipantLeft = `
		UPDATE session_participants
		SET left_at = NOW()
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`

	queryListParticipants = `
		SELECT id, session_id, user_id, display_name, cursor_color, joined_at, left_at
		FROM session_participants
		WHERE session_id = $1
		ORDER BY joined_at ASC`

	queryCountParticipants = `
		SELECT COUNT(*)
		FROM session_participants
		WHERE session_id = $1 AND left_at IS NULL`

	queryAppendSegment = `
		INSERT INTO session_segments (id, session_id, position, content, author_id, author_name, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, session_id, position, content, author_id, author_name, prev_hash, hash, created_at`

	queryListSegments = `
		SELECT id, session_id, position, content, author_id, author_name, prev_hash, hash, created_at
		FROM session_segments
		WHERE session_id = $1
		ORDER BY position ASC`

	queryCountSegments = `
		SELECT COUNT(*)
		FROM session_segments
		WHERE session_id = $1`

	queryAddChatMessage = `
		INSERT INTO session_chat_messages (session_id, user_id, display_name, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, session_id, user_id, display_name, content, created_at`

	queryGetChatMessages = `
		SELECT id, session_id, user_id, display_name, content, created_at
		FROM (
			SELECT id, session_id, user_id, display_name, content, created_at
			FROM session_chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	queryListOverdueScheduled = `
		SELECT id, host_user_id, title, theme, mode, visibility, status, capacity, document,
			scheduled_for, started_at, ended_at, segment_count, created_at, last_activity
		FROM reflection_sessions
		WHERE status = 'scheduled' AND scheduled_for < $1`

	queryListStaleActive = `
		SELECT id, host_user_id, title, theme, mode, visibility, status, capacity, document,
			scheduled_for, started_at, ended_at, segment_count, created_at, last_activity
		FROM reflection_sessions
		WHERE status = 'active' AND last_activity < $1`
)
