package relational

import (
	_ "modernc.org/sqlite"
)
