package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				entity_type VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				master BOOLEAN NOT NULL DEFAULT false,
				version INT NOT NULL DEFAULT 1,
				trigger_conditions JSONB,
				variables JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_entity_type ON workflow_definitions(entity_type);
			CREATE UNIQUE INDEX idx_workflow_definitions_master
				ON workflow_definitions(entity_type) WHERE master AND active;

			CREATE TABLE step_definitions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				step_type VARCHAR(50) NOT NULL,
				step_order INT NOT NULL,
				step_config JSONB,
				conditions JSONB,
				required BOOLEAN NOT NULL DEFAULT false,
				active BOOLEAN NOT NULL DEFAULT true
			);

			CREATE INDEX idx_step_definitions_workflow_id ON step_definitions(workflow_id);

			CREATE TABLE step_templates (
				id VARCHAR(255) PRIMARY KEY,
				step_id VARCHAR(255) NOT NULL REFERENCES step_definitions(id) ON DELETE CASCADE,
				recipient_type VARCHAR(50) NOT NULL,
				recipient_config JSONB,
				message_template TEXT NOT NULL DEFAULT '',
				variable_override JSONB,
				active BOOLEAN NOT NULL DEFAULT true
			);

			CREATE INDEX idx_step_templates_step_id ON step_templates(step_id);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				entity_type VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				trigger_event VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				context JSONB,
				results JSONB,
				failure_reason TEXT NOT NULL DEFAULT '',
				current_step_order INT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				cancelled_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_entity ON workflow_executions(entity_type, entity_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);

			CREATE TABLE step_executions (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				step_name VARCHAR(255) NOT NULL,
				step_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input JSONB,
				output JSONB,
				assigned_to VARCHAR(255) NOT NULL DEFAULT '',
				completed_by VARCHAR(255) NOT NULL DEFAULT '',
				failure_reason TEXT NOT NULL DEFAULT '',
				due_at TIMESTAMP WITH TIME ZONE,
				notifications JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_step_executions_execution_id ON step_executions(execution_id);
			CREATE INDEX idx_step_executions_due_at ON step_executions(due_at)
				WHERE due_at IS NOT NULL AND completed_at IS NULL;

			CREATE TABLE approval_states (
				id VARCHAR(255) PRIMARY KEY,
				entity_type VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				color VARCHAR(50) NOT NULL DEFAULT '',
				is_initial BOOLEAN NOT NULL DEFAULT false,
				is_final BOOLEAN NOT NULL DEFAULT false,
				sort_order INT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_approval_states_entity_type ON approval_states(entity_type);

			CREATE TABLE state_transitions (
				id VARCHAR(255) PRIMARY KEY,
				entity_type VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				from_state_id VARCHAR(255) NOT NULL REFERENCES approval_states(id),
				to_state_id VARCHAR(255) NOT NULL REFERENCES approval_states(id),
				permission VARCHAR(255) NOT NULL DEFAULT '',
				roles JSONB,
				guards JSONB,
				requires_approval BOOLEAN NOT NULL DEFAULT false,
				notification_template TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_state_transitions_from_state ON state_transitions(from_state_id);
			CREATE INDEX idx_state_transitions_entity_name ON state_transitions(entity_type, name);

			CREATE TABLE variable_mappings (
				id VARCHAR(255) PRIMARY KEY,
				entity_type VARCHAR(255) NOT NULL,
				key VARCHAR(255) NOT NULL,
				mapping_kind VARCHAR(50) NOT NULL,
				mapping_config JSONB,
				data_type VARCHAR(50) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT true
			);

			CREATE INDEX idx_variable_mappings_entity_type ON variable_mappings(entity_type);

			CREATE TABLE entities (
				entity_type VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				attributes JSONB,
				state_id VARCHAR(255) NOT NULL DEFAULT '',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				updated_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (entity_type, id)
			);
		`,
	}
}
