package users

const (
	queryUpsertFromToken = `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id)
		DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = NOW()
		RETURNING id, display_name, avatar_url, created_at, updated_at`

	queryFindByID = `
		SELECT id, display_name, avatar_url, created_at, updated_at
		FROM users
		WHERE id = $1`

	queryUpdateProfile = `
		UPDATE users
		SET display_name = $1, avatar_url = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING id, display_name, avatar_url, created_at, updated_at`
)
